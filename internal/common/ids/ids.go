// Package ids generates SparkQ identifiers: short prefixed entity ids and
// human-friendly task codes. Generation is purely local; uniqueness is
// enforced by the database on insert.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Entity id prefixes.
const (
	PrefixProject = "prj"
	PrefixSession = "ses"
	PrefixQueue   = "que"
	PrefixTask    = "tsk"
	PrefixPrompt  = "prm"
)

// entropyBytes yields 12 hex characters per id.
const entropyBytes = 6

// DefaultProjectID is the singleton project created on first run.
const DefaultProjectID = "prj_default"

// New returns a prefixed identifier, e.g. "tsk_3f9a1c04b2de".
func New(prefix string) string {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("ids: entropy source unavailable: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

// NewProject returns a new project id.
func NewProject() string { return New(PrefixProject) }

// NewSession returns a new session id.
func NewSession() string { return New(PrefixSession) }

// NewQueue returns a new queue id.
func NewQueue() string { return New(PrefixQueue) }

// NewTask returns a new task id.
func NewTask() string { return New(PrefixTask) }

// FriendlyCode derives a human-readable task code from the queue name plus a
// short random suffix, e.g. "BUILD-7A3F". The caller retries on collisions
// within a queue.
func FriendlyCode(queueName string) string {
	base := codeBase(queueName)
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ids: entropy source unavailable: %v", err))
	}
	return base + "-" + strings.ToUpper(hex.EncodeToString(buf))
}

const maxCodeBaseLen = 12

// codeBase uppercases the queue name and strips everything that is not a
// letter or digit.
func codeBase(queueName string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(queueName) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= maxCodeBaseLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "TASK"
	}
	return b.String()
}
