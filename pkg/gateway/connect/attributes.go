package connect

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AttributeManager accumulates per-call attributes (barge-ins, tool
// invocations, transcript, conversation analysis) and flushes them to
// the contact record once at call teardown. Safe for concurrent use.
type AttributeManager struct {
	logger *slog.Logger
	meta   *CallMetadata

	mu              sync.Mutex
	attributes      map[string]string
	bargeIns        int
	toolInvocations []toolInvocation
	transcript      []string
	startTime       time.Time
	flushed         bool

	now func() time.Time
}

type toolInvocation struct {
	Tool       string `json:"tool"`
	Timestamp  string `json:"timestamp"`
	Parameters any    `json:"parameters,omitempty"`
}

// NewAttributeManager creates a manager seeded with the call's Connect
// metadata. meta may be nil for calls that did not come from Connect;
// the manager still accumulates so the data appears in logs.
func NewAttributeManager(logger *slog.Logger, meta *CallMetadata) *AttributeManager {
	return newAttributeManager(logger, meta, time.Now)
}

func newAttributeManager(logger *slog.Logger, meta *CallMetadata, now func() time.Time) *AttributeManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &AttributeManager{
		logger:     logger,
		meta:       meta,
		attributes: meta.Attributes(),
		startTime:  now(),
		now:        now,
	}
	return m
}

// IsConnectCall reports whether the call carries Connect contact
// metadata.
func (m *AttributeManager) IsConnectCall() bool {
	return m.meta != nil
}

// RecordModelOutputStart stamps the latest model speech start.
func (m *AttributeManager) RecordModelOutputStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes["Nova_LastOutputTimestamp"] = m.now().UTC().Format(time.RFC3339)
}

// RecordBargeIn counts a caller interruption.
func (m *AttributeManager) RecordBargeIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bargeIns++
	m.attributes["Nova_BargeInCount"] = fmt.Sprintf("%d", m.bargeIns)
	m.attributes["Nova_LastBargeInTimestamp"] = m.now().UTC().Format(time.RFC3339)
	m.logger.Info("barge-in recorded", "count", m.bargeIns)
}

// BargeIns returns the interruption count so far.
func (m *AttributeManager) BargeIns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bargeIns
}

// AddUserTranscript appends caller speech to the transcript log.
func (m *AttributeManager) AddUserTranscript(text string) {
	m.addTranscript("[User]: ", text)
}

// AddModelTranscript appends model speech to the transcript log.
func (m *AttributeManager) AddModelTranscript(text string) {
	m.addTranscript("[Nova]: ", text)
}

func (m *AttributeManager) addTranscript(prefix, text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = append(m.transcript, prefix+text)
}

// RecordToolInvocation logs one tool call with its argument payload.
// parameters that are not valid JSON are stored verbatim.
func (m *AttributeManager) RecordToolInvocation(toolName, parameters string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := toolInvocation{Tool: toolName, Timestamp: m.now().UTC().Format(time.RFC3339)}
	if parameters != "" {
		var parsed any
		if err := json.Unmarshal([]byte(parameters), &parsed); err == nil {
			inv.Parameters = parsed
		} else {
			inv.Parameters = parameters
		}
	}
	m.toolInvocations = append(m.toolInvocations, inv)

	m.attributes["Nova_ToolInvocationCount"] = fmt.Sprintf("%d", len(m.toolInvocations))
	m.attributes["Nova_LastToolInvoked"] = toolName
	m.attributes["Nova_LastToolTimestamp"] = inv.Timestamp
	if payload, err := json.Marshal(m.toolInvocations); err == nil {
		m.attributes["Nova_ToolInvocations"] = string(payload)
	} else {
		m.logger.Error("failed to serialize tool invocations", "error", err)
	}

	m.logger.Info("tool invocation recorded", "tool", toolName, "total", len(m.toolInvocations))
}

// SetAttribute stores one custom attribute.
func (m *AttributeManager) SetAttribute(key, value string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes[key] = value
}

// Merge copies attributes from another source, such as the
// conversation tracker's export.
func (m *AttributeManager) Merge(attrs map[string]string) {
	if len(attrs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range attrs {
		m.attributes[key] = value
	}
	m.logger.Info("merged conversation attributes", "count", len(attrs))
}

// Snapshot finalizes timestamps and returns the attributes for update.
func (m *AttributeManager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.now()
	m.attributes["Nova_ConversationEndTime"] = end.UTC().Format(time.RFC3339)
	m.attributes["Nova_ConversationDurationSeconds"] = fmt.Sprintf("%d", int(end.Sub(m.startTime).Seconds()))
	if _, ok := m.attributes["Nova_ConversationStartTime"]; !ok {
		m.attributes["Nova_ConversationStartTime"] = m.startTime.UTC().Format(time.RFC3339)
	}
	if _, ok := m.attributes["Nova_Transcript"]; !ok && len(m.transcript) > 0 {
		var joined string
		for _, line := range m.transcript {
			joined += line + "\n"
		}
		m.attributes["Nova_Transcript"] = joined
	}
	m.attributes["Nova_ConversationCompleted"] = "true"

	out := make(map[string]string, len(m.attributes))
	for key, value := range m.attributes {
		out[key] = value
	}
	return out
}

// Flush writes the final attributes through the sink. It runs at most
// once; later calls are no-ops. Calls without Connect metadata log the
// summary instead of updating.
func (m *AttributeManager) Flush(sink AttributeSink) {
	m.mu.Lock()
	if m.flushed {
		m.mu.Unlock()
		return
	}
	m.flushed = true
	m.mu.Unlock()

	attrs := m.Snapshot()

	if m.meta == nil {
		m.logger.Info("call has no contact metadata, skipping attribute update",
			"attributes", len(attrs), "barge_ins", m.BargeIns())
		return
	}
	if sink == nil {
		m.logger.Warn("no attribute sink configured, dropping contact attributes")
		return
	}

	instanceID := ExtractInstanceID(m.meta.InstanceARN)
	contactID := m.meta.UpdateContactID()
	if instanceID == "" || contactID == "" {
		m.logger.Warn("incomplete contact metadata, cannot update attributes",
			"instance_id", instanceID, "contact_id", contactID)
		return
	}

	if err := sink.UpdateContactAttributes(instanceID, contactID, attrs); err != nil {
		m.logger.Error("failed to update contact attributes",
			"contact_id", contactID, "error", err)
		return
	}
	m.logger.Info("contact attributes updated", "contact_id", contactID, "attributes", len(attrs))
}
