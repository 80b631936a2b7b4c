package domain

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// 控制输入事件类型，只有持有控制权的成员才能转发到门户。
const (
	ControlKeyDown     EventType = "KEY_DOWN"
	ControlKeyUp       EventType = "KEY_UP"
	ControlPasteText   EventType = "PASTE_TEXT"
	ControlMouseMove   EventType = "MOUSE_MOVE"
	ControlMouseScroll EventType = "MOUSE_SCROLL"
	ControlMouseDown   EventType = "MOUSE_DOWN"
	ControlMouseUp     EventType = "MOUSE_UP"
)

// ErrInvalidControlInput 表示控制输入没有通过校验。
var ErrInvalidControlInput = errors.New("invalid control input")

// IsControlType 报告 t 是否为控制输入类型。
func IsControlType(t EventType) bool {
	switch t {
	case ControlKeyDown, ControlKeyUp, ControlPasteText, ControlMouseMove,
		ControlMouseScroll, ControlMouseDown, ControlMouseUp:
		return true
	}
	return false
}

// ControlInput 是经过校验的控制输入。具体类型为
// KeyInput、PointerInput、ScrollInput 或 PasteInput。
type ControlInput interface {
	Type() EventType
	// Raw 返回客户端发来的原始 d，转发时原样展开。
	Raw() json.RawMessage
}

// KeyInput 对应 KEY_DOWN / KEY_UP。
type KeyInput struct {
	Kind     EventType
	CtrlKey  bool
	ShiftKey bool
	raw      json.RawMessage
}

func (k KeyInput) Type() EventType      { return k.Kind }
func (k KeyInput) Raw() json.RawMessage { return k.raw }

// PointerInput 对应 MOUSE_MOVE / MOUSE_DOWN / MOUSE_UP。MOUSE_MOVE 的 Button 为 0。
type PointerInput struct {
	Kind   EventType
	X, Y   float64
	Button int
	raw    json.RawMessage
}

func (p PointerInput) Type() EventType      { return p.Kind }
func (p PointerInput) Raw() json.RawMessage { return p.raw }

// ScrollInput 对应 MOUSE_SCROLL。
type ScrollInput struct {
	ScrollUp bool
	raw      json.RawMessage
}

func (ScrollInput) Type() EventType        { return ControlMouseScroll }
func (s ScrollInput) Raw() json.RawMessage { return s.raw }

// PasteInput 对应 PASTE_TEXT，内容不做校验。
type PasteInput struct {
	raw json.RawMessage
}

func (PasteInput) Type() EventType        { return ControlPasteText }
func (p PasteInput) Raw() json.RawMessage { return p.raw }

// ParseControlInput 按 t 校验 d 并返回对应的控制输入。
func ParseControlInput(t EventType, d json.RawMessage) (ControlInput, error) {
	if !IsControlType(t) {
		return nil, ErrInvalidControlInput
	}
	if t == ControlPasteText {
		return PasteInput{raw: d}, nil
	}

	payload := gjson.ParseBytes(d)
	if !payload.IsObject() {
		return nil, ErrInvalidControlInput
	}

	switch t {
	case ControlKeyDown, ControlKeyUp:
		ctrl, okCtrl := boolField(payload, "ctrlKey")
		shift, okShift := boolField(payload, "shiftKey")
		if !okCtrl || !okShift {
			return nil, ErrInvalidControlInput
		}
		return KeyInput{Kind: t, CtrlKey: ctrl, ShiftKey: shift, raw: d}, nil

	case ControlMouseScroll:
		up, ok := boolField(payload, "scrollUp")
		if !ok {
			return nil, ErrInvalidControlInput
		}
		return ScrollInput{ScrollUp: up, raw: d}, nil

	default: // MOUSE_MOVE, MOUSE_DOWN, MOUSE_UP
		x, okX := positionField(payload, "x")
		y, okY := positionField(payload, "y")
		if !okX || !okY {
			return nil, ErrInvalidControlInput
		}
		in := PointerInput{Kind: t, X: x, Y: y, raw: d}
		if t == ControlMouseMove {
			return in, nil
		}
		button := payload.Get("button")
		if button.Type != gjson.Number || (button.Num != 1 && button.Num != 3) {
			return nil, ErrInvalidControlInput
		}
		in.Button = int(button.Num)
		return in, nil
	}
}

func boolField(payload gjson.Result, name string) (bool, bool) {
	v := payload.Get(name)
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, false
	}
	return v.Bool(), true
}

// 坐标必须是正数
func positionField(payload gjson.Result, name string) (float64, bool) {
	v := payload.Get(name)
	if v.Type != gjson.Number || v.Num <= 0 {
		return 0, false
	}
	return v.Num, true
}
