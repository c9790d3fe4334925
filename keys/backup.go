package keys

import (
	"crypto/rand"
	_ "embed"
	"fmt"
	"strings"
)

// BackupCodeWords is the number of words in a backup code.
const BackupCodeWords = 12

//go:embed wordlist.txt
var wordlistData string

// wordlist has exactly 256 entries so one random byte selects one word
// without modulo bias.
var wordlist = strings.Fields(wordlistData)

// GenerateBackupCode returns a space separated phrase of BackupCodeWords
// words, each drawn independently from a cryptographic random source.
// The phrase is not derived from key material.
func GenerateBackupCode() (string, error) {
	if len(wordlist) != 256 {
		return "", fmt.Errorf("backup wordlist has %d entries, want 256", len(wordlist))
	}
	idx := make([]byte, BackupCodeWords)
	if _, err := rand.Read(idx); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	words := make([]string, BackupCodeWords)
	for i, b := range idx {
		words[i] = wordlist[b]
	}
	return strings.Join(words, " "), nil
}
