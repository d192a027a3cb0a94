package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/cartpilot/internal/config"
)

func TestDefaultAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	t.Run("Defaults", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: true})
		assert.Greater(t, len(opts), base)
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		without := DefaultAllocatorOptions(config.BrowserConfig{})
		with := DefaultAllocatorOptions(config.BrowserConfig{IgnoreTLSErrors: true})
		assert.Equal(t, len(without)+2, len(with))
	})

	t.Run("UserAgentAndDataDir", func(t *testing.T) {
		without := DefaultAllocatorOptions(config.BrowserConfig{})
		with := DefaultAllocatorOptions(config.BrowserConfig{UserAgent: "cartpilot/1.0", UserDataDir: t.TempDir()})
		assert.Equal(t, len(without)+2, len(with))
	})

	t.Run("CustomArgs", func(t *testing.T) {
		without := DefaultAllocatorOptions(config.BrowserConfig{})
		with := DefaultAllocatorOptions(config.BrowserConfig{Args: []string{"--lang=en-US", "--mute-audio", "--"}})
		assert.Equal(t, len(without)+2, len(with), "empty flags are skipped")
	})
}
