package models

import "github.com/shopspring/decimal"

type Platform string

const (
	PlatformInstagram Platform = "Instagram"
	PlatformYouTube   Platform = "YouTube"
	PlatformTelegram  Platform = "Telegram"
	PlatformTwitter   Platform = "Twitter"
	PlatformFacebook  Platform = "Facebook"
	PlatformTikTok    Platform = "TikTok"
)

var KnownPlatforms = []Platform{
	PlatformInstagram, PlatformYouTube, PlatformTelegram,
	PlatformTwitter, PlatformFacebook, PlatformTikTok,
}

func (p Platform) Valid() bool {
	for _, k := range KnownPlatforms {
		if p == k {
			return true
		}
	}
	return false
}

// ServiceEntry is one sellable service from the catalog. Entries are not
// modified after load; margins live in a separate cell.
type ServiceEntry struct {
	ID              int // 1-based load order, used in callback data
	Platform        Platform
	Category        string
	Name            string
	UnitCost        decimal.Decimal // wholesale cost of a single unit
	MinQuantity     int
	MaxQuantity     int
	Notes           string // empty when the catalog has none
	APIServiceID    int    // agency service id, 0 if not synced yet
	PackageQuantity int    // > 0 for fixed-package services
	ManagerAccess   bool
}

// Key identifies the entry independent of load order.
func (e *ServiceEntry) Key() string {
	return string(e.Platform) + "/" + e.Category + "/" + e.Name
}

func (e *ServiceEntry) FixedPackage() bool {
	return e.PackageQuantity > 0
}
