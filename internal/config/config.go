// Package config handles scenetag configuration loading and management.
package config

import "time"

// Config holds all service settings.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Data        DataConfig        `yaml:"data"`
	Annotations AnnotationsConfig `yaml:"annotations"`
	Viewer      ViewerConfig      `yaml:"viewer"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	WebDir       string        `yaml:"web_dir"` // Optional static front-end
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DataConfig holds resource locations.
type DataConfig struct {
	ModelsDir      string `yaml:"models_dir"`
	AnnotationsDir string `yaml:"annotations_dir"`
	MeshExt        string `yaml:"mesh_ext"`
	MaskExt        string `yaml:"mask_ext"`
	Watch          bool   `yaml:"watch"` // Evict cached resources on change
}

// CollectionConfig names one annotation sub-collection file and the JSON
// array fields read from it, in order.
type CollectionConfig struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

// AnnotationsConfig holds annotation persistence settings.
type AnnotationsConfig struct {
	Backend      string             `yaml:"backend"` // "file" or "postgres"
	PostgresDSN  string             `yaml:"postgres_dsn"`
	Endpoint     string             `yaml:"endpoint"` // Base URL used by pull/push
	NameFragment string             `yaml:"name_fragment"`
	PreviewLimit int                `yaml:"preview_limit"`
	Collections  []CollectionConfig `yaml:"collections"`
}

// ViewerConfig holds per-session camera and picking settings.
type ViewerConfig struct {
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	FOV           float32 `yaml:"fov"` // Vertical, degrees
	Near          float32 `yaml:"near"`
	Far           float32 `yaml:"far"`
	DampingFactor float64 `yaml:"damping_factor"`
	TickRate      int     `yaml:"tick_rate"` // Control updates per second
	GridFallback  bool    `yaml:"grid_fallback"`
	GridSize      int     `yaml:"grid_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	Format  string `yaml:"format"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Data: DataConfig{
			ModelsDir:      "models",
			AnnotationsDir: "annotations",
			MeshExt:        ".ply",
			MaskExt:        ".npy",
			Watch:          true,
		},
		Annotations: AnnotationsConfig{
			Backend:      "file",
			Endpoint:     "http://127.0.0.1:8080",
			NameFragment: "mesh_aligned_0.05",
			PreviewLimit: 3,
			Collections: []CollectionConfig{
				{Name: "regular_annotations", Fields: []string{"commonsense", "human_intention"}},
				{Name: "spatial_annotations", Fields: []string{"abs_annotations", "rel_annotations"}},
			},
		},
		Viewer: ViewerConfig{
			Width:         1280,
			Height:        720,
			FOV:           75,
			Near:          0.1,
			Far:           1000,
			DampingFactor: 0.25,
			TickRate:      30,
			GridFallback:  false,
			GridSize:      3,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
			Format:  "console",
		},
	}
}
