package controlapi

import (
	"fmt"
	"time"

	"presence-bridge/internal/config"
)

// settingsDTO is the JSON view of the user-editable settings. Durations use
// Go duration strings.
type settingsDTO struct {
	Device   deviceDTO   `json:"device"`
	Discord  discordDTO  `json:"discord"`
	Display  displayDTO  `json:"display"`
	Protocol protocolDTO `json:"protocol"`
}

type deviceDTO struct {
	Address          string `json:"address"`
	AutoConvertToMAC bool   `json:"auto_convert_to_mac"`
	SeenMACPrompt    bool   `json:"seen_mac_prompt"`
}

type discordDTO struct {
	ClientID string `json:"client_id"`
}

type displayDTO struct {
	ShowTimer      bool   `json:"show_timer"`
	ShowHomeScreen bool   `json:"show_home_screen"`
	HomeScreenName string `json:"home_screen_name"`
	LargeImageKey  string `json:"large_image_key"`
	LargeImageText string `json:"large_image_text"`
	SmallImageKey  string `json:"small_image_key"`
	State          string `json:"state"`
}

type protocolDTO struct {
	Layout         string `json:"layout"`
	Port           int    `json:"port"`
	ReadTimeout    string `json:"read_timeout"`
	ConnectTimeout string `json:"connect_timeout"`
	Backoff        string `json:"backoff"`
	ResolveRetry   string `json:"resolve_retry"`
}

func toDTO(s config.Settings) settingsDTO {
	return settingsDTO{
		Device: deviceDTO{
			Address:          s.Device.Address,
			AutoConvertToMAC: s.Device.AutoConvertToMAC,
			SeenMACPrompt:    s.Device.SeenMACPrompt,
		},
		Discord: discordDTO{ClientID: s.Discord.ClientID},
		Display: displayDTO(s.Display),
		Protocol: protocolDTO{
			Layout:         s.Protocol.Layout,
			Port:           s.Protocol.Port,
			ReadTimeout:    s.Protocol.ReadTimeout.String(),
			ConnectTimeout: s.Protocol.ConnectTimeout.String(),
			Backoff:        s.Protocol.Backoff.String(),
			ResolveRetry:   s.Protocol.ResolveRetry.String(),
		},
	}
}

// apply overlays d onto base. Sections not in the DTO are kept from base.
func (d settingsDTO) apply(base config.Settings) (config.Settings, error) {
	out := base
	out.Device = config.DeviceSettings{
		Address:          d.Device.Address,
		AutoConvertToMAC: d.Device.AutoConvertToMAC,
		SeenMACPrompt:    d.Device.SeenMACPrompt,
	}
	out.Discord = config.DiscordSettings{ClientID: d.Discord.ClientID}
	out.Display = config.DisplaySettings(d.Display)
	out.Protocol.Layout = d.Protocol.Layout
	out.Protocol.Port = d.Protocol.Port

	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"read_timeout", d.Protocol.ReadTimeout, &out.Protocol.ReadTimeout},
		{"connect_timeout", d.Protocol.ConnectTimeout, &out.Protocol.ConnectTimeout},
		{"backoff", d.Protocol.Backoff, &out.Protocol.Backoff},
		{"resolve_retry", d.Protocol.ResolveRetry, &out.Protocol.ResolveRetry},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return base, fmt.Errorf("protocol.%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return out, nil
}
