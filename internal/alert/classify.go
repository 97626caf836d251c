package alert

import "strings"

// view is the lowercased form of a message that rules match against.
type view struct {
	subject string
	body    string
	sender  string
}

func newView(m RawMessage) view {
	return view{
		subject: strings.ToLower(m.Subject),
		body:    strings.ToLower(m.Body),
		sender:  strings.ToLower(m.Sender),
	}
}

func (v view) inSubjectOrBody(phrases ...string) bool {
	return containsAny(v.subject, phrases...) || containsAny(v.body, phrases...)
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Decision is what a matching rule resolves a message to.
type Decision struct {
	Kind    Kind
	Preview bool
}

// Rule is one step of the classification cascade. Rules are evaluated in
// slice order and the first whose Match returns true decides the kind.
type Rule struct {
	Name    string
	Match   func(v view) bool
	Resolve func(v view) Decision
}

func fixed(k Kind, preview bool) func(view) Decision {
	return func(view) Decision { return Decision{Kind: k, Preview: preview} }
}

// reinspectBody re-derives the kind from the body for sender based rules,
// since a sender alone is ambiguous across all three kinds.
func reinspectBody(v view) Decision {
	switch {
	case containsAny(v.body, "missed call", "missed a call"):
		return Decision{Kind: MissedCall}
	case containsAny(v.body, "voicemail", "left a message"):
		return Decision{Kind: Voicemail, Preview: true}
	default:
		return Decision{Kind: Text, Preview: true}
	}
}

// Rules builds the ordered cascade for a vocabulary:
//
//  1. missed-call-cue
//  2. voicemail-cue
//  3. text-cue
//  4. notification-sender
//  5. product-mention
//
// Rules 4 and 5 overlap for most real senders.
// TODO: fold product-mention into notification-sender once unmatched traffic
// confirms it never catches anything rule 4 misses.
func Rules(voc Vocabulary) []Rule {
	voc = voc.normalized()
	return []Rule{
		{
			Name:    "missed-call-cue",
			Match:   func(v view) bool { return v.inSubjectOrBody("missed call") },
			Resolve: fixed(MissedCall, false),
		},
		{
			Name: "voicemail-cue",
			Match: func(v view) bool {
				return v.inSubjectOrBody("voicemail", "new voicemail", "left you a voicemail")
			},
			Resolve: fixed(Voicemail, true),
		},
		{
			Name: "text-cue",
			Match: func(v view) bool {
				return strings.Contains(v.subject, "text") ||
					containsAny(v.body, "text from", "sent you a text") ||
					containsAny(v.sender, voc.TextGatewayDomain)
			},
			Resolve: fixed(Text, true),
		},
		{
			Name:    "notification-sender",
			Match:   func(v view) bool { return containsAny(v.sender, voc.NotificationSenders...) },
			Resolve: reinspectBody,
		},
		{
			Name: "product-mention",
			Match: func(v view) bool {
				return containsAny(v.subject, voc.ProductPhrase) || containsAny(v.sender, voc.VendorToken)
			},
			Resolve: reinspectBody,
		},
	}
}

// Classifier maps a RawMessage to a Record.
type Classifier struct {
	rules   []Rule
	phone   *PhoneExtractor
	preview *PreviewExtractor
}

// NewClassifier wires the default rule table and extractors for opts.
func NewClassifier(opts Options) *Classifier {
	opts = opts.withDefaults()
	return &Classifier{
		rules:   Rules(opts.Vocabulary),
		phone:   NewPhoneExtractor(),
		preview: NewPreviewExtractor(opts.Vocabulary.ProductHost, opts.MaxPreviewLength),
	}
}

// Match reports the name of the first rule matching m and its decision.
func (c *Classifier) Match(m RawMessage) (string, Decision, bool) {
	v := newView(m)
	for _, r := range c.rules {
		if r.Match(v) {
			return r.Name, r.Resolve(v), true
		}
	}
	return "", Decision{}, false
}

// Classify returns ErrUnclassifiable when no rule matches.
func (c *Classifier) Classify(m RawMessage) (Record, error) {
	_, d, ok := c.Match(m)
	if !ok || d.Kind == KindUnknown {
		return Record{}, ErrUnclassifiable
	}

	rec := Record{Kind: d.Kind, Phone: UnknownPhone}
	if phone, ok := c.phone.Extract(m.Subject); ok {
		rec.Phone = phone
	} else if phone, ok := c.phone.Extract(m.Body); ok {
		rec.Phone = phone
	}
	if d.Preview && d.Kind != MissedCall {
		rec.Preview = c.preview.Extract(m.Body)
	}
	return rec, nil
}
