package domain

// WhisperModelOption describes one ASR model identifier accepted by WhisperX.
type WhisperModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Repo        string `json:"repo"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
	Selected    bool   `json:"selected"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}

// WhisperModelCatalog lists the faster-whisper checkpoints WhisperX can load.
var WhisperModelCatalog = []WhisperModelOption{
	{
		ID:          "tiny",
		Name:        "Tiny",
		Repo:        "Systran/faster-whisper-tiny",
		SizeLabel:   "~75 MB",
		Description: "Fastest multilingual model, for smoke tests.",
	},
	{
		ID:          "base",
		Name:        "Base",
		Repo:        "Systran/faster-whisper-base",
		SizeLabel:   "~145 MB",
		Description: "Fast multilingual model.",
	},
	{
		ID:          "small",
		Name:        "Small",
		Repo:        "Systran/faster-whisper-small",
		SizeLabel:   "~485 MB",
		Description: "Balanced speed and quality.",
	},
	{
		ID:          "medium",
		Name:        "Medium",
		Repo:        "Systran/faster-whisper-medium",
		SizeLabel:   "~1.5 GB",
		Description: "High quality, CPU usable for short meetings.",
	},
	{
		ID:          "large-v2",
		Name:        "Large v2",
		Repo:        "Systran/faster-whisper-large-v2",
		SizeLabel:   "~3 GB",
		Description: "Best tested quality for German council meetings.",
	},
	{
		ID:          "large-v3",
		Name:        "Large v3",
		Repo:        "Systran/faster-whisper-large-v3",
		SizeLabel:   "~3 GB",
		Description: "Latest large multilingual model.",
	},
	{
		ID:          "large-v3-turbo",
		Name:        "Large v3 Turbo",
		Repo:        "mobiuslabsgmbh/faster-whisper-large-v3-turbo",
		SizeLabel:   "~1.6 GB",
		Description: "Faster large-v3 variant.",
	},
}

// LookupWhisperModel returns the catalog entry for id.
func LookupWhisperModel(id string) (WhisperModelOption, bool) {
	for _, model := range WhisperModelCatalog {
		if model.ID == id {
			return model, true
		}
	}
	return WhisperModelOption{}, false
}
