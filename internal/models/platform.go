package models

import "fmt"

// Platform tags which external account a ban, appeal or token belongs to.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformRoblox  Platform = "roblox"
)

// Code is the one-letter form used in compact callback payloads.
func (p Platform) Code() string {
	switch p {
	case PlatformDiscord:
		return "d"
	case PlatformRoblox:
		return "r"
	default:
		return "?"
	}
}

func (p Platform) Valid() bool {
	return p == PlatformDiscord || p == PlatformRoblox
}

// ParsePlatform accepts either the full name or the one-letter code.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "discord", "d":
		return PlatformDiscord, nil
	case "roblox", "r":
		return PlatformRoblox, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}
