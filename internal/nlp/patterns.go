package nlp

import (
	"strconv"
	"strings"
)

// Reserved intents, in priority order for tie-breaking.
const (
	IntentPlayMusic       = "play_music"
	IntentControlVolume   = "control_volume"
	IntentSwitchAudio     = "switch_audio"
	IntentSystemControl   = "system_control"
	IntentHardwareControl = "hardware_control"
	IntentHomeControl     = "home_control"
	IntentDownload        = "download"
	IntentUnknown         = "unknown"
)

type slotKind int

const (
	slotNone slotKind = iota
	slotInt
	slotWord
	slotRest
)

// element is one step of a phrase pattern: either a literal token (with
// optional | alternatives) or a typed capture slot.
type element struct {
	literals []string
	slot     slotKind
	name     string
}

type pattern struct {
	intent   string
	elements []element
	literals int               // literal element count, for specificity
	params   map[string]string // preset parameters carried by this phrase
	order    int
}

// patternSpec is the declaration form: "set volume to <level:int>".
// Literal alternatives separate with |, slots are <name:kind> where kind
// is int, word or rest (rest swallows the remaining tokens and must be
// last).
type patternSpec struct {
	intent string
	text   string
	params map[string]string
}

var patternTable = []patternSpec{
	// Volume pinned above music so "turn the volume up" never reads as a
	// play command.
	{IntentControlVolume, "set volume to <level:int>", nil},
	{IntentControlVolume, "set the volume to <level:int>", nil},
	{IntentControlVolume, "change volume to <level:int>", nil},
	{IntentControlVolume, "volume to <level:int>", nil},
	{IntentControlVolume, "volume <level:int>", nil},
	{IntentControlVolume, "turn the volume up", map[string]string{"direction": "up"}},
	{IntentControlVolume, "turn the volume down", map[string]string{"direction": "down"}},
	{IntentControlVolume, "turn volume up", map[string]string{"direction": "up"}},
	{IntentControlVolume, "turn volume down", map[string]string{"direction": "down"}},
	{IntentControlVolume, "volume up", map[string]string{"direction": "up"}},
	{IntentControlVolume, "volume down", map[string]string{"direction": "down"}},
	{IntentControlVolume, "turn it up", map[string]string{"direction": "up"}},
	{IntentControlVolume, "turn it down", map[string]string{"direction": "down"}},
	{IntentControlVolume, "louder|increase", map[string]string{"direction": "up"}},
	{IntentControlVolume, "quieter|softer|lower", map[string]string{"direction": "down"}},
	{IntentControlVolume, "mute", map[string]string{"action": "mute"}},
	{IntentControlVolume, "unmute", map[string]string{"action": "unmute"}},

	{IntentPlayMusic, "play music by <artist:rest>", nil},
	{IntentPlayMusic, "play something by <artist:rest>", nil},
	{IntentPlayMusic, "play some <query:rest>", nil},
	{IntentPlayMusic, "play music <query:rest>", nil},
	{IntentPlayMusic, "play <query:rest>", nil},
	{IntentPlayMusic, "play music", nil},

	{IntentSwitchAudio, "switch audio to <device:word>", nil},
	{IntentSwitchAudio, "switch output to <device:word>", nil},
	{IntentSwitchAudio, "change output to <device:word>", nil},
	{IntentSwitchAudio, "switch to <device:word>", nil},
	{IntentSwitchAudio, "change to <device:word>", nil},
	{IntentSwitchAudio, "output to <device:word>", nil},
	{IntentSwitchAudio, "use headphones|speakers|bluetooth", nil},

	{IntentSystemControl, "open|launch|start <target:rest>", map[string]string{"action": "open"}},
	{IntentSystemControl, "run|execute <target:rest>", map[string]string{"action": "run"}},
	{IntentSystemControl, "kill|close|stop|terminate <target:rest>", map[string]string{"action": "kill"}},

	// Hardware phrases name a pin, which keeps them ahead of the generic
	// home-control "turn on <rest>" on specificity.
	{IntentHardwareControl, "set pin <pin:int> to <value:int>", map[string]string{"action": "pwm"}},
	{IntentHardwareControl, "set gpio <pin:int> to <value:int>", map[string]string{"action": "pwm"}},
	{IntentHardwareControl, "pwm pin <pin:int> to <value:int>", map[string]string{"action": "pwm"}},
	{IntentHardwareControl, "turn pin <pin:int> on|high", map[string]string{"action": "on"}},
	{IntentHardwareControl, "turn pin <pin:int> off|low", map[string]string{"action": "off"}},
	{IntentHardwareControl, "turn on pin <pin:int>", map[string]string{"action": "on"}},
	{IntentHardwareControl, "turn off pin <pin:int>", map[string]string{"action": "off"}},
	{IntentHardwareControl, "set pin <pin:int> on|high", map[string]string{"action": "on"}},
	{IntentHardwareControl, "set pin <pin:int> off|low", map[string]string{"action": "off"}},
	{IntentHardwareControl, "read|check pin <pin:int>", map[string]string{"action": "read"}},
	{IntentHardwareControl, "read|check gpio <pin:int>", map[string]string{"action": "read"}},
	{IntentHardwareControl, "gpio <pin:int> on|high", map[string]string{"action": "on"}},
	{IntentHardwareControl, "gpio <pin:int> off|low", map[string]string{"action": "off"}},
	{IntentHardwareControl, "pin <pin:int> on|high", map[string]string{"action": "on"}},
	{IntentHardwareControl, "pin <pin:int> off|low", map[string]string{"action": "off"}},

	{IntentHomeControl, "set temperature to <value:int>", map[string]string{"target": "temperature", "action": "set"}},
	{IntentHomeControl, "set the temperature to <value:int>", map[string]string{"target": "temperature", "action": "set"}},
	{IntentHomeControl, "dim the <target:rest>", map[string]string{"action": "dim"}},
	{IntentHomeControl, "dim <target:rest>", map[string]string{"action": "dim"}},
	{IntentHomeControl, "lock the <target:rest>", map[string]string{"action": "lock"}},
	{IntentHomeControl, "unlock the <target:rest>", map[string]string{"action": "unlock"}},
	{IntentHomeControl, "lock <target:rest>", map[string]string{"action": "lock"}},
	{IntentHomeControl, "unlock <target:rest>", map[string]string{"action": "unlock"}},
	{IntentHomeControl, "turn on the <target:rest>", map[string]string{"action": "on"}},
	{IntentHomeControl, "turn off the <target:rest>", map[string]string{"action": "off"}},
	{IntentHomeControl, "turn on <target:rest>", map[string]string{"action": "on"}},
	{IntentHomeControl, "turn off <target:rest>", map[string]string{"action": "off"}},
	{IntentHomeControl, "turn the <target:word> on", map[string]string{"action": "on"}},
	{IntentHomeControl, "turn the <target:word> off", map[string]string{"action": "off"}},
	{IntentHomeControl, "lights on", map[string]string{"target": "lights", "action": "on"}},
	{IntentHomeControl, "lights off", map[string]string{"target": "lights", "action": "off"}},

	{IntentDownload, "download file <query:rest>", nil},
	{IntentDownload, "download the file <query:rest>", nil},
	{IntentDownload, "download <query:rest>", nil},
}

var compiledPatterns []pattern

func init() {
	compiledPatterns = make([]pattern, 0, len(patternTable))
	for i, spec := range patternTable {
		compiledPatterns = append(compiledPatterns, compile(spec, i))
	}
}

func compile(spec patternSpec, order int) pattern {
	p := pattern{intent: spec.intent, params: spec.params, order: order}
	for _, field := range strings.Fields(spec.text) {
		if strings.HasPrefix(field, "<") && strings.HasSuffix(field, ">") {
			body := strings.Trim(field, "<>")
			name, kindName, _ := strings.Cut(body, ":")
			var kind slotKind
			switch kindName {
			case "int":
				kind = slotInt
			case "rest":
				kind = slotRest
			default:
				kind = slotWord
			}
			p.elements = append(p.elements, element{slot: kind, name: name})
			continue
		}
		p.elements = append(p.elements, element{literals: strings.Split(field, "|")})
		p.literals++
	}
	return p
}

// matchAt tries the pattern against tokens starting at offset, returning
// the captured parameters and how many tokens it consumed.
func (p *pattern) matchAt(tokens []string, offset int) (map[string]string, int, bool) {
	params := make(map[string]string, len(p.elements))
	pos := offset

	for _, el := range p.elements {
		if pos >= len(tokens) {
			return nil, 0, false
		}

		switch {
		case el.slot == slotRest:
			params[el.name] = strings.Join(tokens[pos:], " ")
			pos = len(tokens)
		case el.slot == slotInt:
			n, ok := parseIntToken(tokens[pos])
			if !ok {
				return nil, 0, false
			}
			params[el.name] = strconv.Itoa(n)
			pos++
		case el.slot == slotWord:
			params[el.name] = tokens[pos]
			pos++
		default:
			if !contains(el.literals, tokens[pos]) {
				return nil, 0, false
			}
			pos++
		}
	}
	return params, pos - offset, true
}

func parseIntToken(tok string) (int, bool) {
	tok = strings.TrimSuffix(tok, "%")
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
