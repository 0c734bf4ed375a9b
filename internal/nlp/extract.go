package nlp

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
	pinPattern   = regexp.MustCompile(`pin\s*(\d+)|gpio\s*(\d+)`)
	valuePattern = regexp.MustCompile(`to\s+(\d+)|value\s+(\d+)|(\d+)%`)
)

var genres = []string{"jazz", "rock", "classical", "pop", "electronic", "ambient", "folk"}

var deviceSynonyms = map[string]string{
	"headphones": "headphones",
	"headset":    "headphones",
	"earbuds":    "headphones",
	"speakers":   "speakers",
	"speaker":    "speakers",
	"bluetooth":  "bluetooth",
	"bt":         "bluetooth",
	"rtsp":       "rtsp",
	"network":    "rtsp",
	"streaming":  "rtsp",
	"hdmi":       "hdmi",
	"tv":         "hdmi",
	"television": "hdmi",
	"usb":        "usb",
}

var homeTargetSynonyms = map[string]string{
	"light":      "lights",
	"lights":     "lights",
	"lamp":       "lights",
	"bulb":       "lights",
	"thermostat": "temperature",
	"heating":    "temperature",
	"cooling":    "temperature",
	"blinds":     "blinds",
	"curtains":   "blinds",
	"shades":     "blinds",
}

// refineParameters applies intent-specific cleanup to the raw pattern
// captures: canonical device names, genre and artist detection, regex
// fallbacks for pins and values, URL extraction from the untouched text.
func refineParameters(intent string, params map[string]string, tokens []string, original string) map[string]string {
	switch intent {
	case IntentPlayMusic:
		refineMusic(params)
	case IntentControlVolume:
		refineVolume(params)
	case IntentSwitchAudio:
		if dev, ok := params["device"]; ok {
			if canonical, known := deviceSynonyms[dev]; known {
				params["device"] = canonical
			}
		}
	case IntentHardwareControl:
		refineHardware(params, tokens)
	case IntentHomeControl:
		if target, ok := params["target"]; ok {
			if canonical, known := homeTargetSynonyms[target]; known {
				params["target"] = canonical
			}
		}
	case IntentDownload:
		// The URL comes from the original text: normalization folds case,
		// and URL paths are case-sensitive.
		if url := urlPattern.FindString(original); url != "" {
			params["url"] = strings.TrimRight(url, ".,;!?")
		}
		delete(params, "query")
	}
	return params
}

func refineMusic(params map[string]string) {
	if query, ok := params["query"]; ok {
		if before, after, found := strings.Cut(query, " by "); found {
			params["artist"] = after
			if before != "" {
				params["query"] = before
			} else {
				delete(params, "query")
			}
		}
	}
	probe := params["query"] + " " + params["artist"]
	for _, genre := range genres {
		if containsWord(probe, genre) {
			params["genre"] = genre
			break
		}
	}
}

func refineVolume(params map[string]string) {
	if raw, ok := params["level"]; ok {
		level, err := strconv.Atoi(raw)
		if err != nil || level < 0 || level > 100 {
			delete(params, "level")
		}
	}
}

func refineHardware(params map[string]string, tokens []string) {
	text := strings.Join(tokens, " ")

	if _, ok := params["pin"]; !ok {
		if m := pinPattern.FindStringSubmatch(text); m != nil {
			if m[1] != "" {
				params["pin"] = m[1]
			} else {
				params["pin"] = m[2]
			}
		}
	}
	if raw, ok := params["pin"]; ok {
		pin, err := strconv.Atoi(raw)
		if err != nil || pin < 0 || pin > 40 {
			delete(params, "pin")
		}
	}

	if _, ok := params["value"]; !ok {
		if m := valuePattern.FindStringSubmatch(text); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					params["value"] = g
					break
				}
			}
		}
	}
}

func containsWord(text, word string) bool {
	for _, tok := range strings.Fields(text) {
		if tok == word {
			return true
		}
	}
	return false
}
