// 包 annotate：地图点位标注会话（处理组/对照组），以 reducer 方式更新状态
package annotate

import (
	"fmt"
	"time"
)

// Mode：下一次点击所记录的类别
type Mode string

const (
	ModeTreatment Mode = "Treatment"
	ModeControl   Mode = "Control"
)

func ParseMode(s string) (Mode, bool) {
	switch s {
	case string(ModeTreatment), "treatment", "Treatment Area":
		return ModeTreatment, true
	case string(ModeControl), "control", "Control Area":
		return ModeControl, true
	}
	return "", false
}

// TimestampLayout：ISO-8601 本地时间，微秒精度
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Annotation：一次点击记录；列表顺序即点击顺序，允许重复点位
type Annotation struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	IsTreatment bool    `json:"is_treatment"`
	Timestamp   string  `json:"timestamp"`
	Type        string  `json:"type"`
}

// State：idle 表示尚无标注
type State string

const (
	StateIdle      State = "idle"
	StateAnnotated State = "annotated"
)

// Notice：界面上的一次性提示
type Notice struct {
	Level string `json:"level"` // success|info|error
	Text  string `json:"text"`
}

// Session：单个浏览器会话的全部状态
type Session struct {
	Mode        Mode         `json:"mode"`
	Annotations []Annotation `json:"annotations"`
	Notice      *Notice      `json:"notice,omitempty"`
}

func NewSession() Session {
	return Session{Mode: ModeTreatment, Annotations: []Annotation{}}
}

func (s Session) State() State {
	if len(s.Annotations) == 0 {
		return StateIdle
	}
	return StateAnnotated
}

// Action：会话状态迁移；具体类型见 Add / SetMode / Clear / Replace / Notify
type Action interface{ action() }

// Add：按当前模式追加一个点位
type Add struct {
	Lat, Lon float64
	At       time.Time
}

// SetMode：仅影响之后的点击，已有标注不变
type SetMode struct{ Mode Mode }

// Clear：清空全部标注
type Clear struct{}

// Replace：以导入的标注整体替换当前列表
type Replace struct {
	Annotations []Annotation
	Source      string
}

// Notify：仅设置提示，不改动标注
type Notify struct{ Notice Notice }

func (Add) action()     {}
func (SetMode) action() {}
func (Clear) action()   {}
func (Replace) action() {}
func (Notify) action()  {}

// Reduce：纯函数，返回新会话；不修改入参的标注切片
func Reduce(s Session, a Action) Session {
	next := Session{Mode: s.Mode, Annotations: s.Annotations, Notice: nil}
	if next.Mode == "" {
		next.Mode = ModeTreatment
	}
	switch act := a.(type) {
	case Add:
		ann := Annotation{
			Latitude:    act.Lat,
			Longitude:   act.Lon,
			IsTreatment: next.Mode == ModeTreatment,
			Timestamp:   act.At.Format(TimestampLayout),
			Type:        string(next.Mode),
		}
		list := make([]Annotation, len(s.Annotations), len(s.Annotations)+1)
		copy(list, s.Annotations)
		next.Annotations = append(list, ann)
		next.Notice = &Notice{Level: "success", Text: fmt.Sprintf("Added %s at coordinates: %.6f, %.6f", next.Mode, act.Lat, act.Lon)}
	case SetMode:
		next.Mode = act.Mode
	case Clear:
		next.Annotations = []Annotation{}
		next.Notice = &Notice{Level: "info", Text: "Cleared all annotations"}
	case Replace:
		list := make([]Annotation, len(act.Annotations))
		copy(list, act.Annotations)
		next.Annotations = list
		next.Notice = &Notice{Level: "success", Text: fmt.Sprintf("Loaded %d previous annotations", len(list))}
		if act.Source != "" {
			next.Notice.Text += " from " + act.Source
		}
	case Notify:
		n := act.Notice
		next.Notice = &n
	}
	if next.Annotations == nil {
		next.Annotations = []Annotation{}
	}
	return next
}

// Counts：处理组与对照组数量
func (s Session) Counts() (treatment, control int) {
	for _, a := range s.Annotations {
		if a.IsTreatment {
			treatment++
		} else {
			control++
		}
	}
	return treatment, control
}
