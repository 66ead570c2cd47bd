// Package slots recovers access-code slot occupancy from the redundant
// encodings the cloud embeds in a device-info document.
//
// Depending on lock model and firmware, occupancy appears as a 64-bit
// bitmap, an 8-bit bitmap, a CRC checksum list, or a keyed JSON structure.
// Any subset may be present, and firmware has shipped malformed values for
// all of them. The parser therefore never fails: bad inputs are logged and
// skipped, and whatever could be decoded is returned.
package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

// MaxSlot is the highest slot index a lock can report.
const MaxSlot = 255

// Slot is one observed occupied slot on the device. CRC and Name are
// populated only when the source encoding carries them.
type Slot struct {
	Index int
	CRC   string
	Name  string
}

// Observation is the decoded occupancy map, keyed by slot index.
type Observation map[int]Slot

// Indexes returns the occupied slot indexes in ascending order.
func (o Observation) Indexes() []int {
	out := make([]int, 0, len(o))
	for i := range o {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Parser decodes slot occupancy from raw device fields.
type Parser struct {
	log Logger
}

// NewParser builds a parser with logging disabled until SetLogger.
func NewParser() *Parser {
	return &Parser{log: noopLogger{}}
}

// SetLogger attaches a logger. Safe to leave unset.
func (p *Parser) SetLogger(log Logger) {
	if log != nil {
		p.log = log
	}
}

// Parse decodes every occupancy encoding present in fields and merges
// them in a fixed order: 64-bit bitmap, 8-bit bitmap, CRC list, keyed
// structure. When two sources report the same slot, the later source's
// record replaces the earlier one wholesale, since later sources carry
// strictly more detail. Parse never returns an error.
func (p *Parser) Parse(fields cloud.DeviceFields) Observation {
	obs := Observation{}

	if v, ok := fields[cloud.FieldSlotBitmap64]; ok {
		p.mergeBitmap(obs, v, 64, cloud.FieldSlotBitmap64)
	}
	if v, ok := fields[cloud.FieldSlotBitmap8]; ok {
		p.mergeBitmap(obs, v, 8, cloud.FieldSlotBitmap8)
	}
	if v, ok := fields[cloud.FieldSlotCRCList]; ok {
		p.mergeCRCList(obs, v)
	}
	if v, ok := fields[cloud.FieldSlotsByIndex]; ok {
		p.mergeByIndex(obs, v)
	}

	return obs
}

// mergeBitmap decodes a bitmap value where bit i set means slot i is
// occupied. Accepts integers and hex or decimal strings.
func (p *Parser) mergeBitmap(obs Observation, v any, width int, field string) {
	bits, ok := p.parseBitmap(v, field)
	if !ok {
		return
	}
	for i := 0; i < width; i++ {
		if bits&(1<<uint(i)) != 0 {
			obs[i] = Slot{Index: i}
		}
	}
}

func (p *Parser) parseBitmap(v any, field string) (uint64, bool) {
	switch val := v.(type) {
	case float64:
		if val < 0 {
			p.log.Warn("negative slot bitmap", "field", field, "value", val)
			return 0, false
		}
		return uint64(val), true
	case int:
		if val < 0 {
			p.log.Warn("negative slot bitmap", "field", field, "value", val)
			return 0, false
		}
		return uint64(val), true
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(val), "0x"))
		if s == "" {
			return 0, false
		}
		if bits, err := strconv.ParseUint(s, 16, 64); err == nil {
			return bits, true
		}
		if bits, err := strconv.ParseUint(s, 10, 64); err == nil {
			return bits, true
		}
		p.log.Warn("unparseable slot bitmap", "field", field, "value", val)
		return 0, false
	default:
		p.log.Warn("unexpected slot bitmap type", "field", field, "type", fmt.Sprintf("%T", v))
		return 0, false
	}
}

// mergeCRCList decodes the comma-separated checksum list. Each entry is
// "slot:crc"; entries that fail to decode are skipped individually so one
// corrupt token does not discard the rest.
func (p *Parser) mergeCRCList(obs Observation, v any) {
	s, ok := v.(string)
	if !ok {
		p.log.Warn("unexpected crc list type", "type", fmt.Sprintf("%T", v))
		return
	}
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		idx, crc, ok := strings.Cut(token, ":")
		if !ok {
			p.log.Debug("skipping malformed crc token", "token", token)
			continue
		}
		slot, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || slot < 0 || slot > MaxSlot {
			p.log.Debug("skipping crc token with bad slot", "token", token)
			continue
		}
		obs[slot] = Slot{Index: slot, CRC: strings.TrimSpace(crc)}
	}
}

// mergeByIndex decodes the keyed structure. An object is keyed by
// stringified slot index with a truthy value marking the slot occupied.
// An array marks slot i occupied for a truthy element at position i,
// except that an element carrying an explicit slot/index field uses that
// index instead. Anything else is logged and ignored.
func (p *Parser) mergeByIndex(obs Observation, v any) {
	switch val := v.(type) {
	case map[string]any:
		for key, entry := range val {
			slot, err := strconv.Atoi(key)
			if err != nil || slot < 0 || slot > MaxSlot {
				p.log.Debug("skipping keyed slot with bad index", "key", key)
				continue
			}
			if !truthyValue(entry) {
				continue
			}
			obs[slot] = p.slotFromEntry(slot, entry)
		}
	case []any:
		for i, raw := range val {
			slot := i
			if entry, ok := raw.(map[string]any); ok {
				if explicit, ok := intField(entry, "slot", "index"); ok {
					slot = explicit
				}
			}
			if slot < 0 || slot > MaxSlot {
				p.log.Debug("skipping slot entry with out-of-range index", "index", slot)
				continue
			}
			if !truthyValue(raw) {
				continue
			}
			obs[slot] = p.slotFromEntry(slot, raw)
		}
	default:
		p.log.Warn("unexpected keyed slot structure type", "type", fmt.Sprintf("%T", v))
	}
}

// truthyValue reports whether a by-index entry marks its slot occupied.
// Bools and numbers follow their value, strings count when non-empty
// and not an explicit "false" or "0", containers count when non-empty.
func truthyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s != "" && s != "false" && s != "0"
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

func (p *Parser) slotFromEntry(slot int, entry any) Slot {
	s := Slot{Index: slot}
	m, ok := entry.(map[string]any)
	if !ok {
		return s
	}
	if crc, ok := m["crc"].(string); ok {
		s.CRC = crc
	}
	if name, ok := m["name"].(string); ok {
		s.Name = name
	}
	return s
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
