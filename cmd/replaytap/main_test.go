package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/storage"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupBannerRowsAlign(t *testing.T) {
	cfg := &config.Config{
		Replay: config.ReplayConfig{ClientReplay: []string{"captures/**/*.json"}},
		API:    config.APIConfig{Enable: true, Listen: "127.0.0.1", Port: 38889, BasePath: "/api", Token: "s3cret", MaxFlows: 10},
		Log:    config.LogConfig{Level: "info"},
		Notify: config.NotifyConfig{URLs: []string{"https://hooks.example.test/replay"}},
	}

	var buf bytes.Buffer
	printStartupBanner(&buf, cfg)

	rows := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Greater(t, len(rows), 5)
	width := runewidth.StringWidth(rows[0])
	assert.GreaterOrEqual(t, width, minBoxWidth)
	for _, row := range rows {
		assert.Equal(t, width, runewidth.StringWidth(row), "row %q", row)
	}
	assert.Contains(t, buf.String(), "http://127.0.0.1:38889/api")
	assert.Contains(t, buf.String(), "Bearer token")
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	v := viper.New()
	root := newRootCmd(v)
	require.NoError(t, root.ParseFlags([]string{
		"--mode", "upstream:http://proxy.test:3128",
		"--api-port", "9000",
		"--silence",
		"--notify-url", "http://a.test,http://b.test",
	}))

	cfg, err := loadConfig(root, v)
	require.NoError(t, err)
	assert.Equal(t, "upstream:http://proxy.test:3128", cfg.Replay.Mode)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.True(t, cfg.Output.Silence)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Notify.URLs)
	assert.Equal(t, "/api", cfg.API.BasePath)
	require.NoError(t, cfg.Validate())
}

func TestImportCaptures(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "flows.json")
	data := `{"id":"f1","request":{"method":"GET","scheme":"http","host":"a.test","port":80,"path":"/one","http_version":"HTTP/1.1","headers":[["Host","a.test"]],"content":""}}
{"id":"f2","request":{"method":"POST","scheme":"https","host":"b.test","port":443,"path":"/two","http_version":"HTTP/1.1","headers":[["Host","b.test"]],"content":"aGk="}}
`
	require.NoError(t, os.WriteFile(capture, []byte(data), 0o644))

	cfg := &config.StorageConfig{Path: filepath.Join(dir, "captures.db")}
	n, err := importCaptures(t.Context(), logger.Nop(), cfg, []string{capture})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	store, err := storage.New(cfg, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	flows, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "f1", flows[0].ID)
	assert.Equal(t, "POST", flows[1].Request.Method)
}

func TestImportRejectsMissingFile(t *testing.T) {
	cfg := &config.StorageConfig{Path: filepath.Join(t.TempDir(), "captures.db")}
	_, err := importCaptures(t.Context(), logger.Nop(), cfg, []string{filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}
