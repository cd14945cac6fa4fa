package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ogxcoders/videopress/errors"
)

func TestCheckURLSchemes(t *testing.T) {
	d := Downloader{AllowedDomains: []string{"*"}}
	require.NoError(t, d.CheckURL("https://media.example.com/clip.mp4"))
	require.NoError(t, d.CheckURL("http://media.example.com/clip.mp4"))

	for _, raw := range []string{
		"ftp://media.example.com/clip.mp4",
		"file:///etc/passwd",
		"gopher://media.example.com/",
	} {
		err := d.CheckURL(raw)
		require.Error(t, err, raw)
		require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err))
	}
}

func TestCheckURLBlocksPrivateRangesEvenWhenAllowlisted(t *testing.T) {
	// The denylist wins over a wildcard allowlist.
	d := Downloader{AllowedDomains: []string{"*"}}

	for _, raw := range []string{
		"http://127.0.0.1/meta",
		"http://127.8.9.10/meta",
		"http://10.1.2.3/meta",
		"http://172.16.0.1/meta",
		"http://172.31.255.255/meta",
		"http://192.168.1.1/meta",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/meta",
		"http://localhost:8080/meta",
		"http://service.internal/meta",
		"http://printer.local/meta",
	} {
		err := d.CheckURL(raw)
		require.Error(t, err, raw)
		require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err), raw)
	}

	// Public ranges adjacent to the private blocks pass.
	require.NoError(t, d.CheckURL("http://172.32.0.1/clip.mp4"))
	require.NoError(t, d.CheckURL("http://11.0.0.1/clip.mp4"))
}

func TestCheckURLAllowlist(t *testing.T) {
	d := Downloader{AllowedDomains: []string{"media.example.com", "*.cdn.example.org"}}

	require.NoError(t, d.CheckURL("https://media.example.com/a.mp4"))
	require.NoError(t, d.CheckURL("https://cdn.example.org/a.mp4"))
	require.NoError(t, d.CheckURL("https://eu.cdn.example.org/a.mp4"))

	for _, raw := range []string{
		"https://other.example.com/a.mp4",
		"https://media.example.com.evil.net/a.mp4",
		"https://notcdn.example.org/a.mp4",
	} {
		err := d.CheckURL(raw)
		require.Error(t, err, raw)
		require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err), raw)
	}

	empty := Downloader{}
	err := empty.CheckURL("https://media.example.com/a.mp4")
	require.Error(t, err)
}

func TestDownloadRefusesRejectedURL(t *testing.T) {
	d := Downloader{AllowedDomains: []string{"*"}}

	_, err := d.DownloadBytes(context.Background(), "job_1_1", "http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
	require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err))

	_, err = d.DownloadFile(context.Background(), "job_1_1", "http://localhost/clip.mp4", t.TempDir()+"/original.mp4")
	require.Error(t, err)
	require.Equal(t, errors.KindDownloadRejected, errors.KindOf(err))
}
