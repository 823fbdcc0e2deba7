package model

// NamedID binds a pipeline input or output name to a remote data id.
type NamedID struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// NamedValue is one parameter passed to a remote plugin.
type NamedValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// PluginInfo describes one capability of the analysis service.
type PluginInfo struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
	Outputs    []string `json:"outputs,omitempty"`
}

// PluginStatus is one poll answer for a remote job.
type PluginStatus struct {
	Status   RemoteStatus `json:"status"`
	Progress float64      `json:"progress"`
	Outputs  []NamedID    `json:"outputs,omitempty"`
}

// Output returns the data id of the named output.
func (s *PluginStatus) Output(name string) (string, bool) {
	for _, o := range s.Outputs {
		if o.Name == name {
			return o.ID, true
		}
	}
	return "", false
}
