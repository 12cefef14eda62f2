package model

import "time"

// DefaultSiteIcon is stored when a site is added without an icon.
const DefaultSiteIcon = "🌐"

// DefaultBlockedDomains seeds the relay surface, which has no per-account
// site list of its own.
var DefaultBlockedDomains = []string{
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"facebook.com",
	"youtube.com",
	"reddit.com",
	"twitch.tv",
}

// BlockedSite is a row of the blocked_sites table.  Domain is always
// normalised (lower case, no scheme, no leading www., no path) and is
// unique per account.
//
// Fields:
//  ID        – blocked_sites.id (uuid).
//  AccountID – owning account.
//  Domain    – normalised host name.
//  Icon      – display glyph chosen by the user.
//  CreatedAt – insertion time; lists are ordered by it.
type BlockedSite struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Domain    string    `json:"domain"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"createdAt"`
}

// Domains extracts the domain of every site, preserving order.
func Domains(sites []BlockedSite) []string {
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		out = append(out, s.Domain)
	}
	return out
}
