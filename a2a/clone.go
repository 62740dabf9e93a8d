package a2a

// Deep-copy helpers. Stores copy records on read and write so callers can
// never alias store-owned memory.

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the part.
func (p Part) Clone() Part {
	out := p
	if p.Text != nil {
		text := *p.Text
		out.Text = &text
	}
	if p.File != nil {
		file := *p.File
		out.File = &file
	}
	out.Data = cloneMetadata(p.Data)
	out.Metadata = cloneMetadata(p.Metadata)
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p.Clone()
	}
	return out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Parts = cloneParts(m.Parts)
	if m.TaskID != nil {
		id := *m.TaskID
		out.TaskID = &id
	}
	if m.ContextID != nil {
		id := *m.ContextID
		out.ContextID = &id
	}
	out.ReferenceTaskIDs = append([]string(nil), m.ReferenceTaskIDs...)
	out.Extensions = append([]string(nil), m.Extensions...)
	out.Metadata = cloneMetadata(m.Metadata)
	return &out
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	if a.Name != nil {
		name := *a.Name
		out.Name = &name
	}
	if a.Description != nil {
		desc := *a.Description
		out.Description = &desc
	}
	out.Parts = cloneParts(a.Parts)
	out.Metadata = cloneMetadata(a.Metadata)
	return out
}

// Clone returns a deep copy of the status.
func (s TaskStatus) Clone() TaskStatus {
	out := s
	out.Message = s.Message.Clone()
	if s.Timestamp != nil {
		ts := *s.Timestamp
		out.Timestamp = &ts
	}
	return out
}

// Clone returns a deep copy of the agent card.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	out := *c
	if c.Description != nil {
		desc := *c.Description
		out.Description = &desc
	}
	if c.Provider != nil {
		provider := *c.Provider
		out.Provider = &provider
	}
	if c.DocumentationURL != nil {
		doc := *c.DocumentationURL
		out.DocumentationURL = &doc
	}
	out.AdditionalInterfaces = append([]AgentInterface(nil), c.AdditionalInterfaces...)
	out.Capabilities.Extensions = append([]AgentExtension(nil), c.Capabilities.Extensions...)
	out.DefaultInputModes = append([]string(nil), c.DefaultInputModes...)
	out.DefaultOutputModes = append([]string(nil), c.DefaultOutputModes...)
	out.Skills = append([]AgentSkill(nil), c.Skills...)
	return &out
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Status = t.Status.Clone()
	if t.History != nil {
		out.History = make([]Message, len(t.History))
		for i := range t.History {
			out.History[i] = *t.History[i].Clone()
		}
	}
	if t.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(t.Artifacts))
		for i := range t.Artifacts {
			out.Artifacts[i] = t.Artifacts[i].Clone()
		}
	}
	out.Metadata = cloneMetadata(t.Metadata)
	return &out
}
