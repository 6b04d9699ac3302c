package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const defaultChromeTimeout = 30 * time.Second

// ChromeConfig configures the headless browser used for HTML capture
type ChromeConfig struct {
	// RemoteURL is the devtools websocket of an already running browser.
	// When empty a local headless instance is launched.
	RemoteURL string
	// NoSandbox is required when running as root or inside containers
	NoSandbox bool
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Chrome owns a browser allocator shared by capture targets
type Chrome struct {
	config      *ChromeConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChrome prepares a browser allocator. The browser itself starts lazily
// on the first target.
func NewChrome(config *ChromeConfig) *Chrome {
	if config == nil {
		config = &ChromeConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = defaultChromeTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Chrome{config: config, logger: logger}

	if config.RemoteURL != "" {
		c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("font-render-hinting", "none"),
		)
		if config.NoSandbox {
			opts = append(opts, chromedp.Flag("no-sandbox", true))
		}
		c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return c
}

// Close shuts the browser down
func (c *Chrome) Close() {
	if c.allocCancel != nil {
		c.allocCancel()
	}
}

// Open loads html into a new tab and returns the element matching selector
// as a capture target. Close the target when done.
func (c *Chrome) Open(ctx context.Context, html, selector string) (*ChromeTarget, error) {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			c.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	runCtx, runCancel := context.WithTimeout(tabCtx, c.config.Timeout)
	defer runCancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	return &ChromeTarget{
		tabCtx:   tabCtx,
		cancel:   cancel,
		selector: selector,
		timeout:  c.config.Timeout,
	}, nil
}

// ChromeTarget is a DOM element inside a browser tab
type ChromeTarget struct {
	tabCtx   context.Context
	cancel   context.CancelFunc
	selector string
	timeout  time.Duration
}

// Close releases the browser tab
func (t *ChromeTarget) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}

type elementStyle struct {
	Found     bool   `json:"found"`
	Transform string `json:"transform"`
	Origin    string `json:"origin"`
}

func (t *ChromeTarget) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(t.tabCtx, t.timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Transform implements Target
func (t *ChromeTarget) Transform(ctx context.Context) (Transform, error) {
	if t == nil || t.tabCtx == nil {
		return Transform{}, ErrTargetUnavailable
	}

	sel, _ := json.Marshal(t.selector)
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {found: false, transform: "", origin: ""};
		return {found: true, transform: el.style.transform, origin: el.style.transformOrigin};
	})()`, sel)

	var st elementStyle
	if err := t.run(ctx, chromedp.Evaluate(expr, &st)); err != nil {
		return Transform{}, fmt.Errorf("failed to read transform: %w", err)
	}
	if !st.Found {
		return Transform{}, ErrTargetUnavailable
	}
	return Transform{CSS: st.Transform, Origin: st.Origin}, nil
}

// SetTransform implements Target
func (t *ChromeTarget) SetTransform(ctx context.Context, tr Transform) error {
	if t == nil || t.tabCtx == nil {
		return ErrTargetUnavailable
	}

	sel, _ := json.Marshal(t.selector)
	css, _ := json.Marshal(tr.CSS)
	origin, _ := json.Marshal(tr.Origin)
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.style.transform = %s;
		el.style.transformOrigin = %s;
		return true;
	})()`, sel, css, origin)

	var ok bool
	if err := t.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return ErrTargetUnavailable
	}
	return nil
}

// Capture implements Target. The element is screenshotted with the device
// scale factor set to the oversampling on a white page background.
func (t *ChromeTarget) Capture(ctx context.Context, oversampling float64) (image.Image, error) {
	if t == nil || t.tabCtx == nil {
		return nil, ErrTargetUnavailable
	}

	var buf []byte
	err := t.run(ctx,
		emulation.SetDeviceMetricsOverride(0, 0, oversampling, false),
		chromedp.Evaluate(`document.body.style.background = "#ffffff"`, nil),
		chromedp.Screenshot(t.selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
		emulation.ClearDeviceMetricsOverride(),
	)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}
