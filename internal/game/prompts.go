package game

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"whosaid/internal/domain"
)

// defaultPrompts is the built-in prompt bank. Each works as an open question
// whose answer says something about the person who wrote it.
var defaultPrompts = []string{
	"What is the strangest thing you have ever eaten?",
	"What is your guilty-pleasure movie or series?",
	"What is your worst habit?",
	"What is the last dream you remember?",
	"If you could have one superpower, what would it be?",
	"Which book or game do you recommend the most?",
	"If you were an animal, which one would you be and why?",
	"What harmless lie do you tell on a regular basis?",
	"What is your most useless talent?",
	"What is the biggest kitchen disaster you have ever caused?",
	"If you could live in any period of history, which would it be?",
	"What is your most irrational fear?",
	"Which song are you embarrassed to like?",
	"What instantly drives you up the wall?",
	"What is the most impulsive thing you have ever done?",
	"What is your favorite place in the world and why?",
	"What is your least known skill?",
	"What makes you laugh uncontrollably?",
	"What is the strangest advice you have ever received?",
	"If you had a clone, what would you make it do?",
	"What is the most precious object you own?",
	"What is the biggest risk you have ever taken?",
	"Which celebrity do you think smells nice?",
	"What is your weirdest quirk?",
	"What would you do if you won the lottery today?",
	"What was your favorite dish as a child?",
	"What do you find hardest to forgive?",
	"What is your philosophy of life in three words?",
	"If you could talk to someone who has passed away, who would it be?",
	"What is the most beautiful thing you have ever seen?",
}

// DefaultPrompts returns a copy of the built-in prompt bank
func DefaultPrompts() []string {
	out := make([]string, len(defaultPrompts))
	copy(out, defaultPrompts)
	return out
}

// LoadPromptFile reads one prompt per line. Blank lines and lines starting
// with # are skipped, duplicates are dropped.
func LoadPromptFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt file: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	prompts := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := domain.NormalizeText(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("prompt file %s has no prompts", path)
	}
	return prompts, nil
}
