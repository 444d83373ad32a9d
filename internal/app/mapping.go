package app

import (
	"silowatch/internal/channel"
	"silowatch/internal/config"
	"silowatch/internal/detect"
	"silowatch/internal/pipeline"
	"silowatch/internal/poller"
	"silowatch/internal/silo"
)

// detectorConfig maps the file config onto detector thresholds and bounds.
// Unset thresholds fall back to detect's defaults.
func detectorConfig(cfg *config.Config) detect.Config {
	dc := detect.Config{}
	if cfg.Luminosity.DarkThreshold != nil {
		dc.DarkThreshold = *cfg.Luminosity.DarkThreshold
	}
	if cfg.Luminosity.OpenThreshold != nil {
		dc.OpenThreshold = *cfg.Luminosity.OpenThreshold
	}
	dc.Bounds = make(map[string]map[string]*silo.Bounds, len(cfg.Silos))
	for id, sc := range cfg.Silos {
		if len(sc.Bounds) > 0 {
			dc.Bounds[id] = sc.Bounds
		}
	}
	return dc
}

func recipient(sc config.SiloConfig) channel.Recipient {
	return channel.Recipient{
		TelegramChatID: sc.Recipients.TelegramChatID,
		Email:          sc.Recipients.Email,
		Phone:          sc.Recipients.Phone,
		PushURL:        sc.Recipients.PushURL,
	}
}

// targets maps configured silos to poll targets. Cadence strings already
// passed validation, so parse errors here mean "use the default".
func targets(cfg *config.Config) []poller.Target {
	if cfg == nil {
		return nil
	}
	out := make([]poller.Target, 0, len(cfg.Silos))
	for id, sc := range cfg.Silos {
		cadence, err := config.ParseDurationField("silos."+id+".cadence", sc.Cadence)
		if err != nil {
			cadence = 0
		}
		out = append(out, poller.Target{
			Target: pipeline.Target{
				SiloID: id,
				Feed: pipeline.Feed{
					ChannelID: sc.ChannelID,
					ReadKey:   sc.ReadKey,
				},
				Recipient: recipient(sc),
			},
			Cadence: cadence,
		})
	}
	return out
}
