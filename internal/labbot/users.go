package labbot

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/health-apis/labbot/internal/robot"
)

// Identity is one lab user account.
type Identity = robot.Identity

// AllUsers returns the ids of every lab user.
func AllUsers() []string {
	users := make([]string, 0, 5+82)
	for i := 1; i <= 5; i++ {
		users = append(users, fmt.Sprintf("vasdvp+IDME_%02d@gmail.com", i))
	}
	for i := 101; i < 183; i++ {
		users = append(users, fmt.Sprintf("va.api.user+idme.%03d@gmail.com", i))
	}
	return users
}

// Users pairs every id with the shared lab password.
func Users(ids []string, password string) []Identity {
	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		out = append(out, Identity{ID: id, Password: password})
	}
	return out
}

// ReadUserIDs reads one id per line. Blank lines and lines starting with #
// are skipped.
func ReadUserIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user ids: %w", err)
	}
	return ids, nil
}
