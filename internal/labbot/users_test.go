package labbot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllUsers(t *testing.T) {
	users := AllUsers()
	require.Len(t, users, 87)
	assert.Equal(t, "vasdvp+IDME_01@gmail.com", users[0])
	assert.Equal(t, "vasdvp+IDME_05@gmail.com", users[4])
	assert.Equal(t, "va.api.user+idme.101@gmail.com", users[5])
	assert.Equal(t, "va.api.user+idme.182@gmail.com", users[86])

	seen := make(map[string]bool, len(users))
	for _, u := range users {
		assert.False(t, seen[u], "duplicate user %s", u)
		seen[u] = true
	}
}

func TestUsers(t *testing.T) {
	ids := Users([]string{"a", "b"}, "pw")
	assert.Equal(t, []Identity{{ID: "a", Password: "pw"}, {ID: "b", Password: "pw"}}, ids)
	assert.Empty(t, Users(nil, "pw"))
}

func TestReadUserIDs(t *testing.T) {
	input := `
# smoke users
vasdvp+IDME_01@gmail.com

  va.api.user+idme.101@gmail.com
#va.api.user+idme.102@gmail.com
`
	ids, err := ReadUserIDs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"vasdvp+IDME_01@gmail.com", "va.api.user+idme.101@gmail.com"}, ids)

	ids, err = ReadUserIDs(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
