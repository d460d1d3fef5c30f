package game

import (
	"github.com/google/uuid"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

const roomsCollection = "rooms"

// guessNamespace scopes the name-based guess ids
var guessNamespace = uuid.MustParse("5b0f6a8e-3c1d-4e7a-9a52-1f4c2b7d9e60")

// RoomRef returns the reference of a room document
func RoomRef(code string) docstore.Ref {
	return docstore.Doc(roomsCollection, code)
}

// PlayersCollection returns the collection holding a room's players
func PlayersCollection(code string) string {
	return docstore.Collection(roomsCollection, code, "players")
}

// QuestionRef returns the reference of a round's question
func QuestionRef(code string, roundIndex int) docstore.Ref {
	return docstore.Doc(QuestionsCollection(code), domain.QuestionID(roundIndex))
}

func playerRef(code, userID string) docstore.Ref {
	return docstore.Doc(PlayersCollection(code), userID)
}

// QuestionsCollection returns the collection holding a room's questions
func QuestionsCollection(code string) string {
	return docstore.Collection(roomsCollection, code, "questions")
}

// AnswersCollection returns the collection holding a room's answers
func AnswersCollection(code string) string {
	return docstore.Collection(roomsCollection, code, "answers")
}

func answerRef(code, answerID string) docstore.Ref {
	return docstore.Doc(AnswersCollection(code), answerID)
}

// GuessesCollection returns the collection holding a room's guesses
func GuessesCollection(code string) string {
	return docstore.Collection(roomsCollection, code, "guesses")
}

func guessRef(code, guessID string) docstore.Ref {
	return docstore.Doc(GuessesCollection(code), guessID)
}

// guessID derives the id of the only guess a player may make on an answer
func guessID(answerID, guesserID string) string {
	return uuid.NewSHA1(guessNamespace, []byte(answerID+"/"+guesserID)).String()
}
