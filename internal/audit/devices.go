package audit

// Device names used by the default profiles.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// DesktopDevice emulates a 1080p desktop browser.
var DesktopDevice = DeviceProfile{
	Name: DeviceDesktop,
	UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_4) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/81.0.4044.138 Safari/537.36",
	Width:             1920,
	Height:            1080,
	DeviceScaleFactor: 1,
}

// MobileDevice emulates an iPhone XR.
var MobileDevice = DeviceProfile{
	Name: DeviceMobile,
	UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 12_0 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/12.0 Mobile/15E148 Safari/604.1",
	Width:             414,
	Height:            896,
	DeviceScaleFactor: 3,
	Mobile:            true,
	Touch:             true,
}

// DefaultDevices returns the profiles captured when none are configured.
func DefaultDevices() []DeviceProfile {
	return []DeviceProfile{MobileDevice, DesktopDevice}
}
