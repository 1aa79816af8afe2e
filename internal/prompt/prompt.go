package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// UserPrompter handles operator input prompting
type UserPrompter interface {
	// PromptString prompts the user for a string input
	PromptString(message string) (string, error)
	// PromptSecret prompts for sensitive input (hidden)
	PromptSecret(message string) (string, error)
}

// Notifier shows a prompt without reading an answer, for when a read is
// already waiting on the console.
type Notifier interface {
	Notify(message string)
}

// ConsolePrompter implements UserPrompter for console input. Prompts go to
// stderr so stdout stays clean for reports.
type ConsolePrompter struct {
	in     *os.File
	reader *bufio.Reader
	out    io.Writer
}

// NewConsolePrompter creates a new console prompter
func NewConsolePrompter() *ConsolePrompter {
	return &ConsolePrompter{
		in:     os.Stdin,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stderr,
	}
}

// PromptString prompts the user for a string input
func (p *ConsolePrompter) PromptString(message string) (string, error) {
	fmt.Fprint(p.out, message)
	input, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// Notify prints message on its own line
func (p *ConsolePrompter) Notify(message string) {
	fmt.Fprintln(p.out)
	fmt.Fprint(p.out, message)
}

// PromptSecret prompts for sensitive input (hidden)
func (p *ConsolePrompter) PromptSecret(message string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		// Not a terminal, read normally
		return p.PromptString(message)
	}

	fmt.Fprint(p.out, message)
	secret, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(p.out) // Add newline after hidden input
	return strings.TrimSpace(string(secret)), nil
}

// MockPrompter implements UserPrompter for testing
type MockPrompter struct {
	mu        sync.Mutex
	responses map[string]string
	asked     []string
}

// NewMockPrompter creates a new mock prompter for testing
func NewMockPrompter() *MockPrompter {
	return &MockPrompter{
		responses: make(map[string]string),
	}
}

// SetResponse sets a response for a given message
func (m *MockPrompter) SetResponse(message, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[message] = response
}

// Asked returns every message prompted so far
func (m *MockPrompter) Asked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.asked...)
}

// Notify records message as asked
func (m *MockPrompter) Notify(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked = append(m.asked, message)
}

// PromptString returns the pre-set response
func (m *MockPrompter) PromptString(message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked = append(m.asked, message)
	if response, exists := m.responses[message]; exists {
		return response, nil
	}
	return "", fmt.Errorf("no response set for message: %s", message)
}

// PromptSecret returns the pre-set response
func (m *MockPrompter) PromptSecret(message string) (string, error) {
	return m.PromptString(message)
}
