package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

// devices maps the profile names accepted in browser configurations
var devices = map[string]chromedp.Device{
	"pixel 2":       device.Pixel2,
	"pixel 2 xl":    device.Pixel2XL,
	"iphone 8":      device.IPhone8,
	"iphone 8 plus": device.IPhone8Plus,
	"iphone x":      device.IPhoneX,
	"ipad":          device.IPad,
	"galaxy s5":     device.GalaxyS5,
}

func lookupDevice(name string) (chromedp.Device, error) {
	d, ok := devices[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return d, nil
}

// browserKinds maps supported browser names to the executable used when no
// explicit path is configured; empty means the chromedp default lookup
var browserKinds = map[string]string{
	"chromium":      "",
	"chrome":        "",
	"msedge":        "microsoft-edge",
	"microsoftedge": "microsoft-edge",
}

func lookupBrowser(kind string) (string, bool) {
	exec, ok := browserKinds[strings.ToLower(strings.TrimSpace(kind))]
	return exec, ok
}
