package beacon

// BrightnessHistoryCap bounds the LED.h brightness history (only as many
// samples as the pattern matcher needs are retained).
const BrightnessHistoryCap = 16

// Measurement is the minimal per-frame observation carried by a tracked
// LED, grounded on LedMeasurement.h's fields that matter to this design.
type Measurement struct {
	X, Y       float64
	Area       float64
	Diameter   float64
	Brightness float64
}

// TrackedLED is a blob tracked across frames, grounded on LED.h's Led
// class.
type TrackedLED struct {
	latest     Measurement
	brightness []float64

	id                ZeroBasedID
	novelty           uint8
	lastBright        bool
	wasUsedLastFrame  bool
}

// NewTrackedLED creates a tracked LED from its first measurement, not yet
// identified (matching Led's constructor leaving m_id at its default
// sentinel).
func NewTrackedLED(meas Measurement) *TrackedLED {
	return &TrackedLED{
		latest: meas,
		id:     SentinelNoIdentifierOrInsufficientData,
	}
}

// Measurement returns the most recent measurement.
func (t *TrackedLED) Measurement() Measurement { return t.latest }

// AddMeasurement records a new measurement for the following frame,
// appending to the bounded brightness history, per Led::addMeasurement.
func (t *TrackedLED) AddMeasurement(meas Measurement) {
	t.latest = meas
	t.brightness = append(t.brightness, meas.Brightness)
	if len(t.brightness) > BrightnessHistoryCap {
		t.brightness = t.brightness[len(t.brightness)-BrightnessHistoryCap:]
	}
	t.wasUsedLastFrame = false
}

// BrightnessHistory returns the retained per-frame brightness samples,
// oldest first.
func (t *TrackedLED) BrightnessHistory() []float64 {
	return t.brightness
}

// ID returns the current identity (sentinel or 0-based beacon index).
func (t *TrackedLED) ID() ZeroBasedID { return t.id }

// SetID assigns a new identity. Per Led's novelty contract, the novelty
// counter resets to MaxNovelty whenever the identity actually changes.
func (t *TrackedLED) SetID(id ZeroBasedID) {
	if id != t.id {
		t.novelty = MaxNovelty
	}
	t.id = id
}

// Identified reports whether the LED currently carries a positive
// identification.
func (t *TrackedLED) Identified() bool { return Identified(t.id) }

// MarkMisidentified flags the LED as known-not-a-match, per
// Led::markMisidentified; this is sticky so debug UIs can display it.
func (t *TrackedLED) MarkMisidentified() {
	t.SetID(SentinelMarkedMisidentified)
}

// Novelty returns the current novelty counter.
func (t *TrackedLED) Novelty() uint8 { return t.novelty }

// DecayNovelty decreases the novelty counter by one per frame, not going
// below zero, matching the "decays by one per frame" behavior documented
// in SPEC_FULL.md §3.
func (t *TrackedLED) DecayNovelty() {
	if t.novelty > 0 {
		t.novelty--
	}
}

// IsBright returns the most recently determined bright/dim classification.
// Only meaningful when Identified() is true.
func (t *TrackedLED) IsBright() bool { return t.lastBright }

// SetBright records the bright/dim classification for this frame.
func (t *TrackedLED) SetBright(bright bool) { t.lastBright = bright }

// WasUsedLastFrame reports whether the pose estimator consumed this LED on
// the previous frame.
func (t *TrackedLED) WasUsedLastFrame() bool { return t.wasUsedLastFrame }

// MarkAsUsed records that the pose estimator consumed this LED this frame.
func (t *TrackedLED) MarkAsUsed() { t.wasUsedLastFrame = true }

// ResetUsed clears the used-this-frame flag, called at the start of each
// frame before the estimator runs.
func (t *TrackedLED) ResetUsed() { t.wasUsedLastFrame = false }
