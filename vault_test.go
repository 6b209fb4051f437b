package soar_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-soar"
)

func TestVaultService_Upload(t *testing.T) {
	const content = "src=10.0.0.1 dst=10.0.0.2 action=blocked\n"

	t.Run("attaches to a container", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		c := createdContainer(t, client)

		up, err := client.Vault.Upload(context.Background(), "firewall.log", strings.NewReader(content), c.ID())
		require.NoError(t, err)
		assert.NotEmpty(t, up.UploadID)
		assert.Equal(t, "firewall.log", up.Name)
		assert.Equal(t, int64(len(content)), up.Size)
		assert.Equal(t, digest.FromString(content), up.Digest)
		assert.True(t, strings.HasPrefix(up.ContentType, "text/plain"), up.ContentType)

		stored := fake.upload(up.UploadID)
		require.NotNil(t, stored)
		assert.True(t, stored.complete)
		assert.Equal(t, content, string(stored.data))
		assert.Equal(t, "firewall.log", stored.name)
		assert.Equal(t, up.ContentType, stored.contentType)
		assert.Equal(t, c.ID(), stored.containerID)
		assert.False(t, stored.importContainer)
		assert.Equal(t, client.BaseURL()+"/rest/mission/"+itoa(c.ID())+"/analyst/files/", stored.referer)

		log := fake.requestLog()
		assert.Contains(t, log, "POST /upload_chunked")
		assert.Contains(t, log, "POST /upload_chunked_complete")
	})

	t.Run("imports a container export", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		export := append([]byte{0x1f, 0x8b, 0x08, 0x00}, bytes.Repeat([]byte{0}, 64)...)

		up, err := client.Vault.Upload(context.Background(), "container-5.tgz", bytes.NewReader(export), 0)
		require.NoError(t, err)
		assert.Equal(t, "application/gzip", up.ContentType)

		stored := fake.upload(up.UploadID)
		require.NotNil(t, stored)
		assert.True(t, stored.importContainer)
		assert.Zero(t, stored.containerID)
		assert.Equal(t, export, stored.data)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		fake.corruptUploads = true
		c := createdContainer(t, client)

		_, err := client.Vault.Upload(context.Background(), "firewall.log", strings.NewReader(content), c.ID())
		var apiErr *soar.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Contains(t, err.Error(), "completing upload")
		assert.Contains(t, apiErr.Message, "checksum mismatch")
	})

	t.Run("needs a name", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		_, err := client.Vault.Upload(context.Background(), "", strings.NewReader(content), 0)
		var validationErr *soar.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Empty(t, fake.requestLog())
	})
}

func TestVaultService_UploadFile(t *testing.T) {
	t.Run("uploads under the base name", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("analyst notes\n"), 0o600))

		up, err := client.Vault.UploadFile(context.Background(), path, 0)
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", up.Name)
		assert.Equal(t, digest.FromString("analyst notes\n"), up.Digest)
		assert.True(t, fake.upload(up.UploadID).complete)
	})

	t.Run("missing file", func(t *testing.T) {
		fake, client := newFakeSOAR(t)
		_, err := client.Vault.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), 0)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Empty(t, fake.requestLog())
	})
}
