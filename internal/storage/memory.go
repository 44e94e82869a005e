package storage

import (
	"sync"
	"time"

	"github.com/charging-platform/csms/internal/domain/charger"
)

// chargerSlot pairs an aggregate with the per-id mutex that makes
// ApplyChargerMutation serializable at charger-id granularity, per spec
// §5 "the charger aggregate is mutated only via the Store Façade's
// apply_charger_mutation, which serializes writers per charger id."
type chargerSlot struct {
	mu sync.Mutex
	c  *charger.Charger
}

// MemoryStore is the in-memory Store implementation and the primary
// record of truth (spec §1's "out of scope" relational persistence
// layer is an external collaborator; this façade's in-memory map is what
// the core actually reads/writes).
type MemoryStore struct {
	chargersMu sync.RWMutex
	chargers   map[string]*chargerSlot

	idTagsMu sync.RWMutex
	idTags   map[string]*IdTag

	templatesMu sync.Mutex
	templates   map[int]*DataTransferTemplate

	localAuthListVersion int64
	versionMu            sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chargers:  make(map[string]*chargerSlot),
		idTags:    make(map[string]*IdTag),
		templates: make(map[int]*DataTransferTemplate),
	}
}

func (m *MemoryStore) slot(id string) *chargerSlot {
	m.chargersMu.RLock()
	slot, ok := m.chargers[id]
	m.chargersMu.RUnlock()
	if ok {
		return slot
	}

	m.chargersMu.Lock()
	defer m.chargersMu.Unlock()
	if slot, ok = m.chargers[id]; ok {
		return slot
	}
	slot = &chargerSlot{c: charger.New(id)}
	m.chargers[id] = slot
	return slot
}

func (m *MemoryStore) GetCharger(id string) (*charger.Charger, bool) {
	m.chargersMu.RLock()
	slot, ok := m.chargers[id]
	m.chargersMu.RUnlock()
	if !ok {
		return nil, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.c.Snapshot(), true
}

func (m *MemoryStore) UpsertCharger(id string) *charger.Charger {
	slot := m.slot(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.c.Snapshot()
}

func (m *MemoryStore) ApplyChargerMutation(id string, fn func(c *charger.Charger)) *charger.Charger {
	slot := m.slot(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	fn(slot.c)
	return slot.c.Snapshot()
}

func (m *MemoryStore) DeleteCharger(id string) {
	m.chargersMu.Lock()
	defer m.chargersMu.Unlock()
	delete(m.chargers, id)
}

func (m *MemoryStore) EnumerateChargers() []*charger.Charger {
	m.chargersMu.RLock()
	slots := make([]*chargerSlot, 0, len(m.chargers))
	for _, s := range m.chargers {
		slots = append(slots, s)
	}
	m.chargersMu.RUnlock()

	out := make([]*charger.Charger, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.c.Snapshot())
		s.mu.Unlock()
	}
	return out
}

func (m *MemoryStore) GetIdTag(tag string) (*IdTag, bool) {
	m.idTagsMu.RLock()
	defer m.idTagsMu.RUnlock()
	t, ok := m.idTags[tag]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (m *MemoryStore) UpsertIdTag(tag string, status string, expiry *time.Time, parentIdTag *string) *IdTag {
	m.idTagsMu.Lock()
	defer m.idTagsMu.Unlock()
	t := &IdTag{Tag: tag, Status: status, Expiry: expiry, ParentIdTag: parentIdTag}
	m.idTags[tag] = t
	cp := *t
	return &cp
}

func (m *MemoryStore) DeleteIdTag(tag string) {
	m.idTagsMu.Lock()
	defer m.idTagsMu.Unlock()
	delete(m.idTags, tag)
}

func (m *MemoryStore) ListIdTags() []*IdTag {
	m.idTagsMu.RLock()
	defer m.idTagsMu.RUnlock()
	out := make([]*IdTag, 0, len(m.idTags))
	for _, t := range m.idTags {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) GetDataTransferTemplates() []*DataTransferTemplate {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	out := make([]*DataTransferTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) SaveDataTransferTemplate(tpl *DataTransferTemplate) *DataTransferTemplate {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	cp := *tpl
	m.templates[tpl.ID] = &cp
	out := cp
	return &out
}

func (m *MemoryStore) GetDataTransferTemplate(id int) (*DataTransferTemplate, bool) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (m *MemoryStore) DeleteDataTransferTemplate(id int) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	delete(m.templates, id)
}

func (m *MemoryStore) GetVendorSettings(chargePointID string) (charger.VendorSettings, bool) {
	c, ok := m.GetCharger(chargePointID)
	if !ok {
		return charger.VendorSettings{}, false
	}
	return c.VendorSettings, true
}

func (m *MemoryStore) SetVendorSettings(chargePointID string, settings charger.VendorSettings) charger.VendorSettings {
	c := m.ApplyChargerMutation(chargePointID, func(c *charger.Charger) {
		c.VendorSettings = settings
	})
	return c.VendorSettings
}

// NextLocalAuthListVersion increments the local, in-process counter,
// which is where commands.API.SendLocalList takes its version from.
// RedisStorage.IncrLocalAuthListVersion keeps a separate counter in
// Redis; nothing in this process calls it, even when a Redis mirror is
// configured, matching the Non-goal that rules out horizontal
// scale-out.
func (m *MemoryStore) NextLocalAuthListVersion() int {
	m.versionMu.Lock()
	defer m.versionMu.Unlock()
	m.localAuthListVersion++
	return int(m.localAuthListVersion)
}
