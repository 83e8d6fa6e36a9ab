package sequence

// Text is the content of a follow-up step: either fixed copy or a producer
// invoked at send time so the message can carry last-moment values such as
// remaining-slot counts.
type Text struct {
	static  string
	dynamic func() string
}

// StaticText wraps fixed copy.
func StaticText(s string) Text {
	return Text{static: s}
}

// DynamicText wraps a producer evaluated when the step fires.
func DynamicText(fn func() string) Text {
	return Text{dynamic: fn}
}

// Render resolves the text. Dynamic producers are called once per render.
func (t Text) Render() string {
	if t.dynamic != nil {
		return t.dynamic()
	}
	return t.static
}
