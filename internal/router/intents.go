package router

import "github.com/aservis/maestro/internal/nlp"

// capabilityByIntent maps a classified intent to the capability tag a
// service must advertise to receive it.
var capabilityByIntent = map[string]string{
	nlp.IntentPlayMusic:       "audio",
	nlp.IntentControlVolume:   "audio",
	nlp.IntentSwitchAudio:     "audio",
	nlp.IntentSystemControl:   "system",
	nlp.IntentHardwareControl: "gpio",
	nlp.IntentHomeControl:     "home",
	nlp.IntentDownload:        "download",
}

// remoteToolByIntent names the tool invoked on the selected service.
// The download intent is absent: downloads run on the local job engine.
var remoteToolByIntent = map[string]string{
	nlp.IntentPlayMusic:       "play_music",
	nlp.IntentControlVolume:   "set_volume",
	nlp.IntentSwitchAudio:     "switch_output",
	nlp.IntentSystemControl:   "execute_command",
	nlp.IntentHardwareControl: "gpio_control",
	nlp.IntentHomeControl:     "home_control",
}

// CapabilityFor returns the capability tag for an intent.
func CapabilityFor(intent string) (string, bool) {
	tag, ok := capabilityByIntent[intent]
	return tag, ok
}

// RemoteToolFor returns the remote tool name for an intent. Intents
// handled locally have none.
func RemoteToolFor(intent string) (string, bool) {
	tool, ok := remoteToolByIntent[intent]
	return tool, ok
}

// Capabilities lists every known capability tag with the intents that
// route to it, for the maestro://intents resource.
func Capabilities() map[string][]string {
	out := make(map[string][]string)
	for intent, tag := range capabilityByIntent {
		out[tag] = append(out[tag], intent)
	}
	return out
}
