package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// NodeConfig is the per-type configuration of a Node.
//
// Each NodeType has exactly one variant, registered in configRegistry.
type NodeConfig interface {
	NodeType() NodeType
	Clone() NodeConfig
}

// TextConfig holds literal text authored by the user.
type TextConfig struct {
	Text string `json:"text" mapstructure:"text" validate:"max=200000"`
}

// FileConfig references an uploaded asset.
type FileConfig struct {
	URL      string `json:"url,omitempty" mapstructure:"url" validate:"omitempty,url"`
	FileName string `json:"fileName,omitempty" mapstructure:"fileName" validate:"max=512"`
	MimeType string `json:"mimeType,omitempty" mapstructure:"mimeType" validate:"max=255"`
}

// LLMConfig configures a text generation step.
type LLMConfig struct {
	Model        string   `json:"model,omitempty" mapstructure:"model" validate:"max=128"`
	Prompt       string   `json:"prompt,omitempty" mapstructure:"prompt" validate:"max=200000"`
	SystemPrompt string   `json:"systemPrompt,omitempty" mapstructure:"systemPrompt" validate:"max=200000"`
	Temperature  *float64 `json:"temperature,omitempty" mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    int      `json:"maxTokens,omitempty" mapstructure:"maxTokens" validate:"gte=0,lte=1000000"`
}

// ImageGenConfig configures an image generation step.
type ImageGenConfig struct {
	Model       string `json:"model,omitempty" mapstructure:"model" validate:"max=128"`
	Prompt      string `json:"prompt,omitempty" mapstructure:"prompt" validate:"max=20000"`
	Width       int    `json:"width,omitempty" mapstructure:"width" validate:"gte=0,lte=8192"`
	Height      int    `json:"height,omitempty" mapstructure:"height" validate:"gte=0,lte=8192"`
	AspectRatio string `json:"aspectRatio,omitempty" mapstructure:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16 21:9"`
}

// VideoGenConfig configures a video generation step.
type VideoGenConfig struct {
	Model           string  `json:"model,omitempty" mapstructure:"model" validate:"max=128"`
	Prompt          string  `json:"prompt,omitempty" mapstructure:"prompt" validate:"max=20000"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" mapstructure:"durationSeconds" validate:"gte=0,lte=600"`
	AspectRatio     string  `json:"aspectRatio,omitempty" mapstructure:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16 21:9"`
}

// AudioGenConfig configures an audio generation step.
type AudioGenConfig struct {
	Model           string  `json:"model,omitempty" mapstructure:"model" validate:"max=128"`
	Prompt          string  `json:"prompt,omitempty" mapstructure:"prompt" validate:"max=20000"`
	Voice           string  `json:"voice,omitempty" mapstructure:"voice" validate:"max=128"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" mapstructure:"durationSeconds" validate:"gte=0,lte=3600"`
}

// CompositorTrack places one input on the compositor timeline.
type CompositorTrack struct {
	HandleID string  `json:"handleId" mapstructure:"handleId" validate:"required"`
	Start    float64 `json:"start" mapstructure:"start" validate:"gte=0"`
	Duration float64 `json:"duration,omitempty" mapstructure:"duration" validate:"gte=0"`
	Layer    int     `json:"layer" mapstructure:"layer" validate:"gte=0"`
}

// VideoCompositorConfig arranges a variable number of inputs on a timeline.
type VideoCompositorConfig struct {
	Width  int               `json:"width,omitempty" mapstructure:"width" validate:"gte=0,lte=8192"`
	Height int               `json:"height,omitempty" mapstructure:"height" validate:"gte=0,lte=8192"`
	FPS    int               `json:"fps,omitempty" mapstructure:"fps" validate:"gte=0,lte=120"`
	Tracks []CompositorTrack `json:"tracks,omitempty" mapstructure:"tracks" validate:"dive"`
}

// PreviewConfig has no settings; the node renders whatever it receives.
type PreviewConfig struct{}

// ExportConfig configures the final artifact of a workflow.
type ExportConfig struct {
	Format   string `json:"format,omitempty" mapstructure:"format" validate:"omitempty,oneof=mp4 webm mov png jpg mp3 wav txt json"`
	FileName string `json:"fileName,omitempty" mapstructure:"fileName" validate:"max=512"`
}

func (TextConfig) NodeType() NodeType            { return NodeTypeText }
func (FileConfig) NodeType() NodeType            { return NodeTypeFile }
func (LLMConfig) NodeType() NodeType             { return NodeTypeLLM }
func (ImageGenConfig) NodeType() NodeType        { return NodeTypeImageGen }
func (VideoGenConfig) NodeType() NodeType        { return NodeTypeVideoGen }
func (AudioGenConfig) NodeType() NodeType        { return NodeTypeAudioGen }
func (VideoCompositorConfig) NodeType() NodeType { return NodeTypeVideoCompositor }
func (PreviewConfig) NodeType() NodeType         { return NodeTypePreview }
func (ExportConfig) NodeType() NodeType          { return NodeTypeExport }

func (c *TextConfig) Clone() NodeConfig     { out := *c; return &out }
func (c *FileConfig) Clone() NodeConfig     { out := *c; return &out }
func (c *ImageGenConfig) Clone() NodeConfig { out := *c; return &out }
func (c *VideoGenConfig) Clone() NodeConfig { out := *c; return &out }
func (c *AudioGenConfig) Clone() NodeConfig { out := *c; return &out }
func (c *PreviewConfig) Clone() NodeConfig  { out := *c; return &out }
func (c *ExportConfig) Clone() NodeConfig   { out := *c; return &out }

func (c *LLMConfig) Clone() NodeConfig {
	out := *c
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	return &out
}

func (c *VideoCompositorConfig) Clone() NodeConfig {
	out := *c
	out.Tracks = append([]CompositorTrack(nil), c.Tracks...)
	return &out
}

var configRegistry = map[NodeType]func() NodeConfig{
	NodeTypeText:            func() NodeConfig { return &TextConfig{} },
	NodeTypeFile:            func() NodeConfig { return &FileConfig{} },
	NodeTypeLLM:             func() NodeConfig { return &LLMConfig{} },
	NodeTypeImageGen:        func() NodeConfig { return &ImageGenConfig{} },
	NodeTypeVideoGen:        func() NodeConfig { return &VideoGenConfig{} },
	NodeTypeAudioGen:        func() NodeConfig { return &AudioGenConfig{} },
	NodeTypeVideoCompositor: func() NodeConfig { return &VideoCompositorConfig{} },
	NodeTypePreview:         func() NodeConfig { return &PreviewConfig{} },
	NodeTypeExport:          func() NodeConfig { return &ExportConfig{} },
}

// NewConfig returns the zero config variant for t.
func NewConfig(t NodeType) (NodeConfig, error) {
	ctor, ok := configRegistry[t]
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", t)
	}
	return ctor(), nil
}

// DecodeConfig converts an untyped config map into the variant registered for t.
// Unknown keys are ignored; values of the wrong shape are an error.
func DecodeConfig(t NodeType, fields map[string]any) (NodeConfig, error) {
	cfg, err := NewConfig(t)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return cfg, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, fmt.Errorf("config for %s: %w", t, err)
	}
	return cfg, nil
}
