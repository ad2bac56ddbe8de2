package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op2gl/op2gl/internal/gitlab/gitlabtest"
	"github.com/op2gl/op2gl/internal/types"
)

func testDoc() *types.Document {
	return &types.Document{
		Users: map[int]*types.User{
			3: {LegacyID: 3, Login: "alice", Email: "alice@example.com"},
			4: {LegacyID: 4, Login: "bob", Email: "Bob@Example.com"},
			5: {LegacyID: 5, Login: "carol", Email: "carol@example.com", DisplayName: "Carol C", Locked: true},
			6: {LegacyID: 6, Login: "dave"},
			7: {LegacyID: 7, Login: "unused", Email: "unused@example.com"},
		},
		Issues: map[int]*types.Issue{
			1: {LegacyID: 1, AuthorID: 3, AssigneeID: 4, Watchers: []int{6},
				Journal: []types.JournalEntry{{AuthorID: 5, CreatedAt: time.Now()}}},
		},
		Boards: map[int]*types.Board{
			1: {Messages: map[int]*types.ForumMessage{2: {AuthorID: 9}}},
		},
	}
}

func TestReferenced(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5, 6, 9}, Referenced(testDoc()))
}

func TestResolve_LookupOnly(t *testing.T) {
	srv := gitlabtest.New(t)
	alice := srv.AddUser("alice", "a@corp.example.com", false)
	bob := srv.AddUser("robert", "bob@example.com", false)

	m, err := NewResolver(srv.APIClient(), nil).Resolve(context.Background(), testDoc(), Options{})
	require.NoError(t, err)

	id, ok := m.Target(3)
	assert.True(t, ok)
	assert.Equal(t, alice.ID, id, "matched by username")
	id, ok = m.Target(4)
	assert.True(t, ok)
	assert.Equal(t, bob.ID, id, "matched by email, case-insensitively")

	id, ok = m.Target(5)
	assert.False(t, ok)
	assert.Equal(t, gitlabtest.OperatorID, id, "unresolved users fall back to the operator")
	assert.ElementsMatch(t, []int{5, 6, 9}, m.Fallbacks)
	assert.Empty(t, m.Created)
	require.Len(t, m.Errors, 1, "only the user missing from the document is an error")
	assert.Equal(t, 9, m.Errors[0].LegacyID)
}

func TestResolve_CreatesMissingAccounts(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddUser("alice", "alice@example.com", false)

	m, err := NewResolver(srv.APIClient(), nil).Resolve(context.Background(), testDoc(), Options{Create: true})
	require.NoError(t, err)

	logins := map[string]Created{}
	for _, c := range m.Created {
		logins[c.Login] = c
	}
	assert.Contains(t, logins, "bob")
	require.Contains(t, logins, "carol")
	assert.True(t, logins["carol"].Blocked, "locked legacy users are blocked")
	u, _ := srv.User(logins["carol"].TargetID)
	assert.Equal(t, "blocked", u.State)
	assert.Equal(t, "Carol C", u.Name)
	assert.NotContains(t, logins, "unused", "only referenced users are created")

	// dave has no email, so creation fails for him alone.
	var resErr *ResolutionError
	found := false
	for _, e := range m.Errors {
		if errors.As(e, &resErr) && resErr.LegacyID == 6 {
			found = true
		}
	}
	assert.True(t, found)
	_, ok := m.Target(6)
	assert.False(t, ok)
}

func TestResolve_LookupFailureIsPerUser(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddUser("bob", "bob@example.com", false)
	srv.Inject(gitlabtest.Fault{Method: "GET", PathContains: "/users", Status: 403, Times: 1})

	doc := &types.Document{
		Users:  map[int]*types.User{3: {Login: "alice"}, 4: {Login: "bob"}},
		Issues: map[int]*types.Issue{1: {AuthorID: 3, AssigneeID: 4}},
	}
	// GET /user (the operator) does not match the fault; alice's lookup does.
	m, err := NewResolver(srv.APIClient(), nil).Resolve(context.Background(), doc, Options{})
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	assert.Equal(t, 3, m.Errors[0].LegacyID)
	_, ok := m.Target(4)
	assert.True(t, ok)
}

func TestResolve_Overrides(t *testing.T) {
	srv := gitlabtest.New(t)
	jd := srv.AddUser("john.doe", "jd@example.com", false)

	doc := &types.Document{
		Users:  map[int]*types.User{3: {Login: "jdoe"}, 4: {Login: "ghost"}},
		Issues: map[int]*types.Issue{1: {AuthorID: 3, AssigneeID: 4}},
	}
	m, err := NewResolver(srv.APIClient(), nil).Resolve(context.Background(), doc, Options{
		Overrides: map[string]string{"jdoe": "john.doe", "ghost": "nobody"},
	})
	require.NoError(t, err)
	id, ok := m.Target(3)
	assert.True(t, ok)
	assert.Equal(t, jd.ID, id)
	require.Len(t, m.Errors, 1)
	assert.Contains(t, m.Errors[0].Error(), "override target")
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "jane", SanitizeUsername("jane@example.com"))
	assert.Equal(t, "j_smith", SanitizeUsername("j smith"))
	assert.Equal(t, "user", SanitizeUsername("???"))
	assert.Equal(t, "a.b-c", SanitizeUsername("a.b-c"))
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.toml")
	require.NoError(t, os.WriteFile(path, []byte("[users]\njdoe = \"john.doe\"\n\"x y\" = \"xy\"\n"), 0o600))

	got, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"jdoe": "john.doe", "x y": "xy"}, got)

	_, err = LoadOverrides(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
