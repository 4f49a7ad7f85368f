// Package sb3 models the Scratch 3 project.json document and reads and
// writes the zip archives that carry it.
package sb3

// Project is the root of a project.json document.
type Project struct {
	Targets    []*Target `json:"targets"`
	Monitors   []any     `json:"monitors"`
	Extensions []string  `json:"extensions"`
	Meta       Meta      `json:"meta"`
}

type Meta struct {
	Semver string `json:"semver"`
	VM     string `json:"vm"`
	Agent  string `json:"agent"`
}

// Target is one stage or sprite. Fields only valid for one kind are
// pointers so the other kind omits them entirely.
type Target struct {
	IsStage        bool              `json:"isStage"`
	Name           string            `json:"name"`
	Variables      map[string][]any  `json:"variables"` // id: [name, value]
	Lists          map[string][]any  `json:"lists"`     // id: [name, [items]]
	Broadcasts     map[string]string `json:"broadcasts"`
	Blocks         map[string]*Block `json:"blocks"`
	Comments       map[string]any    `json:"comments"`
	CurrentCostume int               `json:"currentCostume"`
	Costumes       []*Costume        `json:"costumes"`
	Sounds         []any             `json:"sounds"`
	Volume         float64           `json:"volume"`
	LayerOrder     int               `json:"layerOrder"`

	// stage only
	Tempo             *int    `json:"tempo,omitempty"`
	VideoTransparency *int    `json:"videoTransparency,omitempty"`
	VideoState        *string `json:"videoState,omitempty"`

	// sprite only
	Visible       *bool    `json:"visible,omitempty"`
	X             *float64 `json:"x,omitempty"`
	Y             *float64 `json:"y,omitempty"`
	Size          *float64 `json:"size,omitempty"`
	Direction     *float64 `json:"direction,omitempty"`
	Draggable     *bool    `json:"draggable,omitempty"`
	RotationStyle *string  `json:"rotationStyle,omitempty"`
}

// NewStage returns a stage target with the runtime's defaults.
func NewStage(name string) *Target {
	tempo := 60
	transparency := 50
	videoState := "on"
	return &Target{
		IsStage:           true,
		Name:              name,
		Variables:         map[string][]any{},
		Lists:             map[string][]any{},
		Broadcasts:        map[string]string{},
		Blocks:            map[string]*Block{},
		Comments:          map[string]any{},
		Sounds:            []any{},
		Volume:            100,
		Tempo:             &tempo,
		VideoTransparency: &transparency,
		VideoState:        &videoState,
	}
}

// NewSprite returns a sprite target with the runtime's defaults.
func NewSprite(name string, layer int) *Target {
	visible := true
	x, y := 0.0, 0.0
	size, direction := 100.0, 90.0
	draggable := false
	rotation := "all around"
	return &Target{
		Name:          name,
		Variables:     map[string][]any{},
		Lists:         map[string][]any{},
		Broadcasts:    map[string]string{},
		Blocks:        map[string]*Block{},
		Comments:      map[string]any{},
		Sounds:        []any{},
		Volume:        100,
		LayerOrder:    layer,
		Visible:       &visible,
		X:             &x,
		Y:             &y,
		Size:          &size,
		Direction:     &direction,
		Draggable:     &draggable,
		RotationStyle: &rotation,
	}
}

// Block is one entry in a target's flat block table. Inputs hold either a
// shadowed literal like [1,[4,"10"]] or a block reference [2,"id"]; Fields
// hold [value, id-or-nil] pairs.
type Block struct {
	Opcode   string           `json:"opcode"`
	Next     *string          `json:"next"`
	Parent   *string          `json:"parent"`
	Inputs   map[string][]any `json:"inputs"`
	Fields   map[string][]any `json:"fields"`
	Shadow   bool             `json:"shadow"`
	TopLevel bool             `json:"topLevel"`
	X        *float64         `json:"x,omitempty"`
	Y        *float64         `json:"y,omitempty"`
	Mutation *Mutation        `json:"mutation,omitempty"`
}

// Mutation carries custom-block metadata. The argument fields are
// JSON-in-a-string, the way the Scratch VM serializes them.
type Mutation struct {
	TagName          string `json:"tagName"`
	Children         []any  `json:"children"`
	Proccode         string `json:"proccode,omitempty"`
	ArgumentIDs      string `json:"argumentids,omitempty"`
	ArgumentNames    string `json:"argumentnames,omitempty"`
	ArgumentDefaults string `json:"argumentdefaults,omitempty"`
	Warp             string `json:"warp,omitempty"`
	HasNext          string `json:"hasnext,omitempty"`
}

// NewMutation returns a mutation with the mandatory envelope filled in.
func NewMutation() *Mutation {
	return &Mutation{TagName: "mutation", Children: []any{}}
}

type Costume struct {
	Name             string  `json:"name"`
	DataFormat       string  `json:"dataFormat"`
	AssetID          string  `json:"assetId"`
	MD5Ext           string  `json:"md5ext"`
	RotationCenterX  float64 `json:"rotationCenterX"`
	RotationCenterY  float64 `json:"rotationCenterY"`
	BitmapResolution int     `json:"bitmapResolution,omitempty"`
}

// Input literal codes used inside block inputs.
const (
	InputSameBlockShadow = 1 // unobscured shadow
	InputBlockNoShadow   = 2 // block reference, no shadow
	InputDiffBlockShadow = 3 // block reference obscuring a shadow
)

// Shadow literal type codes.
const (
	LiteralNumber    = 4
	LiteralString    = 10
	LiteralBroadcast = 11
)

// NumberInput builds an unobscured numeric shadow input.
func NumberInput(text string) []any {
	return []any{InputSameBlockShadow, []any{LiteralNumber, text}}
}

// StringInput builds an unobscured string shadow input.
func StringInput(text string) []any {
	return []any{InputSameBlockShadow, []any{LiteralString, text}}
}

// BroadcastInput builds a broadcast shadow input with its id.
func BroadcastInput(name, id string) []any {
	return []any{InputSameBlockShadow, []any{LiteralBroadcast, name, id}}
}

// BlockInput builds a bare block reference input.
func BlockInput(id string) []any {
	return []any{InputBlockNoShadow, id}
}

// ObscuredInput builds a block reference obscuring a default shadow.
func ObscuredInput(id string, shadow []any) []any {
	return []any{InputDiffBlockShadow, id, shadow[1]}
}

// Field builds a [value, nil] field entry.
func Field(value string) []any {
	return []any{value, nil}
}

// FieldWithID builds a [value, id] field entry for variable and list fields.
func FieldWithID(value, id string) []any {
	return []any{value, id}
}

// NewProject returns an empty project with standard metadata.
func NewProject() *Project {
	return &Project{
		Monitors:   []any{},
		Extensions: []string{},
		Meta: Meta{
			Semver: "3.0.0",
			VM:     "0.2.0",
			Agent:  "sbtext",
		},
	}
}
