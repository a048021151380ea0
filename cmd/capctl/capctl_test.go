package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dpup/capable"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/caps"
	"github.com/dpup/capable/plugins/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixtures = `
users:
  - id: 1
    login: ed
    roles: [editor]
  - id: 2
    login: amy
    roles: [author]
    caps:
      upload_files: false
  - id: 3
    login: sue
    roles: [subscriber, contributor]
  - id: 4
    login: root
    superAdmin: true
posts:
  - {id: 10, type: post, status: publish, author: 2}
  - {id: 11, type: post, status: draft, author: 1}
terms:
  - {id: 5, taxonomy: category, name: Uncategorized, slug: uncategorized}
  - {id: 6, taxonomy: category, name: News, slug: news}
options:
  default_category: 5
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testFixtures), 0o600))
	return path
}

// run executes capctl against a fresh memory store loaded with the fixtures.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := newApp(capable.WithStore(memstore.New()), capable.WithLogger(logging.NewNopLogger()))
	cmd := a.command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--fixtures", writeFixtures(t)}, args...))
	err := cmd.ExecuteContext(t.Context())
	require.NoError(t, a.close(context.Background()))
	return out.String(), err
}

func TestRolesList(t *testing.T) {
	out, err := run(t, "roles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "│", "rendered as a bordered table")
	for _, r := range caps.DefaultRoles() {
		assert.Contains(t, out, r.Key)
		assert.Contains(t, out, r.Name)
	}

	var subscriberRow string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, caps.RoleSubscriber) {
			subscriberRow = line
		}
	}
	assert.Regexp(t, `│\s*subscriber\s*│\s*Subscriber\s*│\s*2\s*│`, subscriberRow)
	assert.NotContains(t, out, "\x1b[", "no styling when not writing to a terminal")
}

func TestRolesShow(t *testing.T) {
	out, err := run(t, "roles", "show", caps.RoleSubscriber)
	require.NoError(t, err)
	assert.Contains(t, out, "read\n")
	assert.Contains(t, out, "level_0\n")

	_, err = run(t, "roles", "show", "ghost")
	assert.ErrorIs(t, err, errUnknownRole)
}

func TestRolesAdd(t *testing.T) {
	out, err := run(t, "roles", "add", "reviewer", "Reviewer", "read", "edit_posts")
	require.NoError(t, err)
	assert.Contains(t, out, `added role "reviewer"`)

	out, err = run(t, "roles", "add", caps.RoleEditor, "Editor")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestRolesPopulate(t *testing.T) {
	out, err := run(t, "--site", "3", "roles", "populate")
	require.NoError(t, err)
	assert.Contains(t, out, "site 3")
}

func TestCan(t *testing.T) {
	out, err := run(t, "can", "amy", "edit_post", "--object", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed:  true")
	assert.Contains(t, out, "edit_published_posts")

	out, err = run(t, "can", "amy", "edit_post", "--object", "11")
	assert.ErrorIs(t, err, errDenied)
	assert.Contains(t, out, "missing:  edit_others_posts")

	_, err = run(t, "can", "2", "upload_files")
	assert.ErrorIs(t, err, errDenied, "individual denial overrides the author role")

	_, err = run(t, "can", "sue", "edit_posts")
	assert.NoError(t, err, "roles are combined")

	out, err = run(t, "can", "--quiet", "ed", "edit_others_posts")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCan_unknownUser(t *testing.T) {
	_, err := run(t, "can", "nobody", "read")
	assert.ErrorIs(t, err, caps.ErrUnknownUser)
}

func TestMap(t *testing.T) {
	out, err := run(t, "map", "ed", "delete_term", "--object", "5")
	require.NoError(t, err)
	assert.Equal(t, caps.DoNotAllow+"\n", out)

	out, err = run(t, "map", "ed", "delete_term", "--object", "6")
	require.NoError(t, err)
	assert.Equal(t, "manage_categories\n", out)
}

func TestUsersCaps(t *testing.T) {
	out, err := run(t, "users", "caps", "amy")
	require.NoError(t, err)
	assert.Contains(t, out, "upload_files (denied)")
	assert.Contains(t, out, "author\n")

	out, err = run(t, "users", "show", "sue")
	require.NoError(t, err)
	assert.Contains(t, out, "roles: subscriber, contributor")
}

func TestUsersSuperAdmin(t *testing.T) {
	_, err := run(t, "users", "super-admin", "ed")
	require.NoError(t, err)

	_, err = run(t, "users", "super-admin", "--revoke", "root")
	require.NoError(t, err)
}
