//go:build cgo
// +build cgo

// Package tracker implements the per-frame orchestration loop that ties
// blob extraction, association, pose estimation, body containers, and room
// calibration together into a running video-inertial tracker. Grounded on
// TrackerThread.h/.cpp for the frame algorithm and on the teacher's
// pkg/miface/tracker.go for the goroutine/channel lifecycle shape
// (subscriber fan-out, context-cancellation loop, mutex-guarded state
// machine).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/osvr-go/unifiedtracker/internal/capture"
	"github.com/osvr-go/unifiedtracker/internal/config"
	"github.com/osvr-go/unifiedtracker/pkg/associate"
	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/blobs"
	"github.com/osvr-go/unifiedtracker/pkg/bodycontainer"
	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/calibration"
	"github.com/osvr-go/unifiedtracker/pkg/estimator"
	"github.com/osvr-go/unifiedtracker/pkg/identify"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
	"github.com/osvr-go/unifiedtracker/pkg/measurement"
	"github.com/osvr-go/unifiedtracker/pkg/target"
)

// Sentinel errors, per SPEC_FULL.md §7, checked with errors.Is following
// the teacher's lifecycle-error convention.
var (
	ErrTrackerRunning = errors.New("tracker: already running")
	ErrTrackerClosed  = errors.New("tracker: closed")
	ErrTrackerStopped = errors.New("tracker: stopped")

	ErrNonFiniteCorrection  = errors.New("tracker: non-finite correction discarded")
	ErrPoseRejected         = errors.New("tracker: pose rejected")
	ErrTrackingLost         = errors.New("tracker: tracking lost")
	ErrMeasurementDiscarded = errors.New("tracker: measurement discarded")
	ErrCalibrationUnready   = errors.New("tracker: calibration not ready")
	ErrUnknownBody          = errors.New("tracker: unknown body id")
)

// imuOrientationVariance and imuAngularVelocityVariance are the tangent-
// space measurement variances applied to IMU corrections once calibration
// is complete. No per-IMU variance appears in SPEC_FULL.md §6's
// configuration table (only camera/target/estimator/blob/calibration/report
// are listed), so these are a design decision rather than a grounded value
// (SPEC_FULL.md §9 Open Question), chosen small relative to the default
// orientation process noise (cfg.Target.ProcessNoiseAutocorrelation[3:6] =
// 10) so a trusted IMU dominates the filter's own prediction.
var (
	imuOrientationVariance     = mathkernel.Vec3{1e-4, 1e-4, 1e-4}
	imuAngularVelocityVariance = mathkernel.Vec3{1e-3, 1e-3, 1e-3}
)

// FrameSource retrieves the latest camera frame. internal/capture's
// OpenCVCamera satisfies this directly; tests supply a fake.
type FrameSource interface {
	Grab() (capture.Frame, error)
}

// RunState is the tracker's lifecycle state, mirroring the teacher's
// TrackerState (renamed to avoid colliding with target.TrackingState).
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateStopped
	StateClosed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ReportKind distinguishes the tracker's published report shapes, per
// TrackerThread::updateReportingVector.
type ReportKind int

const (
	ReportBodyPose ReportKind = iota
	ReportCameraPose
	ReportIMUAligned
	ReportIMUCameraSpace
)

// BodyPose is one body's timestamped pose snapshot: the tracker's internal
// reporting shape, distinct from internal/report's OSC wire shape.
type BodyPose struct {
	BodyID          int
	Time            time.Time
	Position        mathkernel.Vec3
	Orientation     mathkernel.Quaternion
	Velocity        mathkernel.Vec3
	AngularVelocity mathkernel.Vec3
	Valid           bool
}

// Report is one published update; only Pose is populated, tagged by Kind.
type Report struct {
	Kind ReportKind
	Pose BodyPose
}

// OrientationReport is an absolute-orientation IMU sample, per SPEC_FULL.md
// §6's orientation(tv, q) callback shape.
type OrientationReport struct {
	Quaternion mathkernel.Quaternion
}

// AngularVelocityReport is a small-rotation delta-quaternion IMU sample,
// per SPEC_FULL.md §6's angular_velocity(tv, δq, dt) callback shape.
type AngularVelocityReport struct {
	DeltaQuat mathkernel.Quaternion
	Dt        float64
}

type imuEnvelope struct {
	bodyID      int
	time        time.Time
	orientation *OrientationReport
	angularVel  *AngularVelocityReport
}

// imuState tracks the most recent orientation sample fed in for one body,
// satisfying bodycontainer.IMUSource and backing pkg/calibration's
// processIMUData and the IMU-view synthetic reports.
type imuState struct {
	haveOrientation bool
	orientation     mathkernel.Quaternion
	lastUpdate      time.Time
	haveLastUpdate  bool
}

func (s *imuState) LastUpdate() (time.Time, bool) { return s.lastUpdate, s.haveLastUpdate }

// Body pairs a rigid body's container with its optional IMU collaborator.
type Body struct {
	ID        int
	Container *bodycontainer.Container
	identify  *identify.Matcher

	imu *imuState // nil if this body has no IMU
}

// BodySpec describes one rigid body to track at construction time.
type BodySpec struct {
	ID      int
	Table   *beacon.Table
	Options target.Options
	HasIMU  bool

	// History overrides the body's state-history store. Nil selects the
	// hot-path default, bodycontainer.MemoryHistory; the calibrate
	// subcommand supplies a persistent store instead, per
	// internal/history.
	History bodycontainer.HistorySnapshotter
}

type blobResult struct {
	time  time.Time
	blobs []blobs.Blob
	err   error
}

// Tracker owns the camera, every tracked body, and the room-calibration
// state machine, and runs the per-frame orchestration loop of
// SPEC_FULL.md §4.9 on a dedicated goroutine.
type Tracker struct {
	mu    sync.RWMutex
	state RunState

	cam         FrameSource
	cameraModel estimator.CameraModel
	blobIntr    blobs.Intrinsics
	extractor   *blobs.Extractor

	bodies   []*Body
	bodyByID map[int]*Body

	processModel kalman.ProcessModel

	calib             *calibration.RoomCalibration
	haveCameraPose    bool
	cameraPosition    mathkernel.Vec3
	cameraOrientation mathkernel.Quaternion

	imuCh chan imuEnvelope

	subMu       sync.RWMutex
	subscribers []chan Report

	nextCameraPoseReport time.Time

	ctx    context.Context
	cancel context.CancelFunc

	startupLatch sync.WaitGroup
	startOnce    sync.Once
}

// New builds a Tracker from configuration, a frame source, and the set of
// bodies to track. Every body gets its own Target (vision pose estimator)
// bound to a damped constant-velocity process model parameterized by
// cfg.Target, and its own identify.Matcher seeded from its beacon table.
func New(cfg *config.Config, cam FrameSource, specs []BodySpec) (*Tracker, error) {
	if cam == nil {
		return nil, fmt.Errorf("tracker: frame source is required")
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("tracker: at least one body is required")
	}

	camModel := estimator.CameraModel{
		FocalX: cfg.Camera.FocalLengthX, FocalY: cfg.Camera.FocalLengthY,
		PrincipalX: cfg.Camera.PrincipalX, PrincipalY: cfg.Camera.PrincipalY,
		K1: cfg.Camera.K1, K2: cfg.Camera.K2, K3: cfg.Camera.K3,
		P1: cfg.Camera.P1, P2: cfg.Camera.P2,
	}
	blobIntr := blobs.Intrinsics{
		FocalX: cfg.Camera.FocalLengthX, FocalY: cfg.Camera.FocalLengthY,
		PrincipalX: cfg.Camera.PrincipalX, PrincipalY: cfg.Camera.PrincipalY,
		K1: cfg.Camera.K1, K2: cfg.Camera.K2, K3: cfg.Camera.K3,
		P1: cfg.Camera.P1, P2: cfg.Camera.P2,
	}

	processModel := bodystate.NewDampedConstantVelocityProcessModel(cfg.Target.LinearVelocityDecay, cfg.Target.AngularVelocityDecay)
	processModel.Noise = cfg.Target.ProcessNoiseAutocorrelation

	t := &Tracker{
		state:        StateIdle,
		cam:          cam,
		cameraModel:  camModel,
		blobIntr:     blobIntr,
		extractor:    blobs.NewExtractor(cfg.Blob),
		bodyByID:     make(map[int]*Body, len(specs)),
		processModel: processModel,
		calib: calibration.New(
			mathkernel.Vec3(cfg.Calibration.CameraPosition),
			cfg.Calibration.CameraFacesForward,
		),
		imuCh: make(chan imuEnvelope, 64),
	}
	t.startupLatch.Add(1)

	scaatParams := estimator.SCAATParams{
		ShouldSkipBrightLeds:           cfg.Estimator.ShouldSkipBrightLeds,
		MaxResidual:                    cfg.Estimator.MaxResidual,
		MaxZComponent:                  cfg.Estimator.MaxZComponent,
		HighResidualVariancePenalty:    cfg.Estimator.HighResidualVariancePenalty,
		BeaconProcessNoise:             cfg.Estimator.BeaconProcessNoise,
		MeasurementVarianceScaleFactor: cfg.Estimator.MeasurementVarianceScaleFactor,
	}

	for _, spec := range specs {
		if _, exists := t.bodyByID[spec.ID]; exists {
			return nil, fmt.Errorf("tracker: duplicate body id %d", spec.ID)
		}

		opts := spec.Options
		opts.SCAATParams = scaatParams

		state := bodystate.New()
		tgt := target.New(spec.Table, state, processModel, opts)
		container := bodycontainer.New(state, processModel, tgt, spec.History)

		body := &Body{
			ID:        spec.ID,
			Container: container,
			identify:  identify.NewMatcher(spec.Table),
		}
		if spec.HasIMU {
			body.imu = &imuState{}
		}

		t.bodies = append(t.bodies, body)
		t.bodyByID[spec.ID] = body
	}

	return t, nil
}

// PermitStart releases the startup latch, letting a blocked Run call begin
// its loop. Safe to call before or after Run; idempotent.
func (t *Tracker) PermitStart() {
	t.startOnce.Do(t.startupLatch.Done)
}

// Run blocks the startup latch, then drives the per-frame loop until ctx is
// canceled or Stop/Close transitions the state machine. Intended to be
// called from its own goroutine by the host application.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	if t.state == StateRunning {
		t.mu.Unlock()
		return ErrTrackerRunning
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.state = StateRunning
	t.mu.Unlock()

	t.startupLatch.Wait()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("tracker: fatal panic in frame loop, halting: %v", r)
		}
		t.mu.Lock()
		if t.state == StateRunning {
			t.state = StateStopped
		}
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.ctx.Done():
			t.drainIMU()
			return nil
		default:
		}
		t.doFrame(t.ctx)
	}
}

// Stop cancels the running loop without releasing tracker resources,
// mirroring the teacher's Stop/Close split.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return ErrTrackerClosed
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.state = StateStopped
	return nil
}

// Close stops the loop (if running) and closes every subscriber channel.
// The Tracker must not be reused after Close.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.state = StateClosed
	t.mu.Unlock()

	t.subMu.Lock()
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
	t.subMu.Unlock()
	return nil
}

// State returns the tracker's current lifecycle state.
func (t *Tracker) State() RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// checkAcceptingIMU rejects IMU submissions once nothing will ever drain
// imuCh again, so a caller blocked on a full channel gets a sentinel error
// back instead of hanging forever past Close.
func (t *Tracker) checkAcceptingIMU() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.state {
	case StateClosed:
		return ErrTrackerClosed
	case StateStopped:
		return ErrTrackerStopped
	}
	return nil
}

// Subscribe returns a channel of published reports. The channel is
// buffered; a slow consumer has frames dropped rather than blocking the
// tracker goroutine, matching the teacher's processFrame() fan-out.
func (t *Tracker) Subscribe() <-chan Report {
	ch := make(chan Report, 16)
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.subMu.Unlock()
	return ch
}

func (t *Tracker) publish(r Report) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
}

// SubmitOrientation feeds an absolute-orientation IMU sample for bodyID
// into the tracker's IMU channel. Safe to call from any goroutine.
func (t *Tracker) SubmitOrientation(bodyID int, tv time.Time, q mathkernel.Quaternion) error {
	if _, ok := t.bodyByID[bodyID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBody, bodyID)
	}
	if err := t.checkAcceptingIMU(); err != nil {
		return err
	}
	t.imuCh <- imuEnvelope{bodyID: bodyID, time: tv, orientation: &OrientationReport{Quaternion: q}}
	return nil
}

// SubmitAngularVelocity feeds a delta-quaternion IMU sample for bodyID into
// the tracker's IMU channel. Safe to call from any goroutine.
func (t *Tracker) SubmitAngularVelocity(bodyID int, tv time.Time, deltaQ mathkernel.Quaternion, dt float64) error {
	if _, ok := t.bodyByID[bodyID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBody, bodyID)
	}
	if err := t.checkAcceptingIMU(); err != nil {
		return err
	}
	t.imuCh <- imuEnvelope{bodyID: bodyID, time: tv, angularVel: &AngularVelocityReport{DeltaQuat: deltaQ, Dt: dt}}
	return nil
}

// doFrame runs one iteration of SPEC_FULL.md §4.9's six-step algorithm.
func (t *Tracker) doFrame(ctx context.Context) {
	done := make(chan blobResult, 1)
	go func() {
		frame, err := t.cam.Grab()
		if err != nil {
			done <- blobResult{err: err}
			return
		}
		defer frame.Close()
		extracted := t.extractor.Extract(frame.Gray)
		extracted = blobs.Undistort(extracted, t.blobIntr)
		done <- blobResult{time: frame.Timestamp, blobs: extracted}
	}()

	var result blobResult
waitForHelper:
	for {
		select {
		case result = <-done:
			break waitForHelper
		case env := <-t.imuCh:
			t.applyIMU(env)
		case <-ctx.Done():
			return
		}
	}

	if result.err != nil {
		log.Printf("tracker: frame grab failed: %v", result.err)
		return
	}

	t.updateBodies(result.time, result.blobs)

drainRemaining:
	for {
		select {
		case env := <-t.imuCh:
			t.applyIMU(env)
		default:
			break drainRemaining
		}
	}

	t.publishReports(result.time)
}

func (t *Tracker) updateBodies(frameTime time.Time, extracted []blobs.Blob) {
	measurements := make([]associate.Measurement, len(extracted))
	for i, b := range extracted {
		measurements[i] = associate.Measurement{X: b.X, Y: b.Y, Diameter: b.Diameter}
	}

	for _, body := range t.bodies {
		tgt := body.Container.Target

		// Rewind to the archived state at or before this frame's own
		// timestamp rather than correcting whatever the live state
		// happens to be right now, per
		// TrackingSystem::updatePoseEstimates/TrackedBody::getStateAtOrBefore:
		// a slower camera pipeline means concurrent IMU reports may have
		// already advanced the live state past frameTime by the time this
		// frame's blobs are ready to process.
		working := bodystate.New()
		stateTime, validStateAndTime := body.Container.GetStateAtOrBefore(frameTime, working)
		dt := 0.0
		if validStateAndTime {
			dt = frameTime.Sub(stateTime).Seconds()
			if dt < 0 {
				dt = 0
			}
		}

		tgt.Body = working
		kalman.Predict(working, body.Container.ProcessModel, dt)

		wasTracking := tgt.State() == target.StateKalman
		tgt.SetLastUpdate(frameTime)
		accepted := tgt.ProcessFrame(t.cameraModel, measurements, body.identify.Identify, validStateAndTime, dt)

		if wasTracking && tgt.State() != target.StateKalman {
			log.Printf("tracker: body %d: %v", body.ID, ErrTrackingLost)
		} else if tgt.State() == target.StateRANSAC && !accepted {
			log.Printf("tracker: body %d: %v", body.ID, ErrPoseRejected)
		}

		if accepted {
			// Commits the rewound-and-corrected state as the new live
			// state and discards the now-superseded history entries
			// between stateTime and frameTime, per
			// TrackedBody::replaceStateSnapshot.
			body.Container.ReplaceStateSnapshot(stateTime, frameTime, working)
		} else {
			// Discard the working copy; the live state is untouched.
			tgt.Body = body.Container.State
		}
		body.Container.PruneHistory()

		if tgt.HasPoseEstimate() && !t.calib.CalibrationComplete() {
			btid := calibration.BodyTargetID{Body: body.ID, Target: 0}
			if t.calib.WantVideoData(btid) {
				t.calib.ProcessVideoData(btid, frameTime, body.Container.State.Position(), body.Container.State.Quaternion())
				t.applyPostCalibrationUpdate()
			}
		}
	}
}

func (t *Tracker) applyIMU(env imuEnvelope) {
	body := t.bodyByID[env.bodyID]
	if body == nil || body.imu == nil {
		return
	}

	switch {
	case env.orientation != nil:
		q := env.orientation.Quaternion
		if body.imu.haveOrientation {
			q = flipQuatSignToMatchReference(body.imu.orientation, q)
		}
		body.imu.orientation = q
		body.imu.haveOrientation = true
		body.imu.lastUpdate = env.time
		body.imu.haveLastUpdate = true

		if !t.calib.CalibrationComplete() {
			// ErrCalibrationUnready: route to the calibrator instead of the
			// filter. This is the routine pre-convergence path, not a fault,
			// so it is handled silently rather than logged per frame.
			t.calib.ProcessIMUData(env.bodyID, q)
			t.applyPostCalibrationUpdate()
			return
		}
		t.correct(body, measurement.NewAbsoluteOrientation(q, imuOrientationVariance))

	case env.angularVel != nil:
		body.imu.lastUpdate = env.time
		body.imu.haveLastUpdate = true
		if !t.calib.CalibrationComplete() {
			return
		}
		w := measurement.AngularVelocityFromDeltaQuat(env.angularVel.DeltaQuat, env.angularVel.Dt)
		t.correct(body, measurement.NewAngularVelocity(w, imuAngularVelocityVariance))
	}
}

func (t *Tracker) applyPostCalibrationUpdate() {
	if !t.calib.PostCalibrationUpdate() {
		return
	}
	t.haveCameraPose = true
	t.cameraPosition, t.cameraOrientation = t.calib.CameraPose()
	log.Printf("tracker: room calibration complete, camera pose %+v / %+v", t.cameraPosition, t.cameraOrientation)
}

func (t *Tracker) correct(body *Body, meas kalman.Measurement) {
	cip, err := kalman.BeginCorrection(body.Container.State, meas)
	if err != nil {
		log.Printf("tracker: body %d IMU correction: %v", body.ID, err)
		return
	}
	if !cip.Finite {
		log.Printf("tracker: body %d: %v", body.ID, ErrNonFiniteCorrection)
		return
	}
	if applied, err := cip.FinishCorrection(true); err != nil {
		log.Printf("tracker: body %d IMU correction: %v", body.ID, err)
	} else if !applied {
		log.Printf("tracker: body %d: %v", body.ID, ErrNonFiniteCorrection)
	}
}

func (t *Tracker) drainIMU() {
	for {
		select {
		case env := <-t.imuCh:
			t.applyIMU(env)
		default:
			return
		}
	}
}

// publishReports emits the per-body pose report plus, once calibration is
// complete, the three synthetic reports described in SPEC_FULL.md §4.9: a
// 1Hz-gated camera pose and the two per-frame IMU debug views.
func (t *Tracker) publishReports(frameTime time.Time) {
	for _, body := range t.bodies {
		tgt := body.Container.Target
		state := body.Container.State
		t.publish(Report{Kind: ReportBodyPose, Pose: BodyPose{
			BodyID:          body.ID,
			Time:            frameTime,
			Position:        state.Position(),
			Orientation:     state.CombinedQuaternion(),
			Velocity:        state.Velocity(),
			AngularVelocity: state.AngularVelocity(),
			Valid:           tgt.HasPoseEstimate(),
		}})
	}

	if !t.calib.CalibrationComplete() {
		return
	}

	if !frameTime.Before(t.nextCameraPoseReport) {
		t.publish(Report{Kind: ReportCameraPose, Pose: BodyPose{
			Time:        frameTime,
			Position:    t.cameraPosition,
			Orientation: t.cameraOrientation,
			Valid:       true,
		}})
		t.nextCameraPoseReport = frameTime.Add(time.Second)
	}

	for _, body := range t.bodies {
		if body.imu == nil || !body.imu.haveOrientation {
			continue
		}
		t.publish(Report{Kind: ReportIMUAligned, Pose: BodyPose{
			BodyID: body.ID, Time: frameTime, Orientation: body.imu.orientation, Valid: true,
		}})

		cameraSpace := mathkernel.QuatMul(mathkernel.QuatConjugate(t.cameraOrientation), body.imu.orientation)
		t.publish(Report{Kind: ReportIMUCameraSpace, Pose: BodyPose{
			BodyID: body.ID, Time: frameTime, Orientation: cameraSpace, Valid: true,
		}})
	}
}

// flipQuatSignToMatchReference picks the sign of q closer to reference,
// mirroring pkg/calibration's unexported helper of the same purpose
// (RoomCalibration.cpp's hemisphere-continuity convention applies equally
// to the IMU orientation fed here and to the IMU data fed to calibration).
func flipQuatSignToMatchReference(reference, q mathkernel.Quaternion) mathkernel.Quaternion {
	if mathkernel.QuatDot(reference, q) < 0 {
		return mathkernel.QuatNegate(q)
	}
	return q
}
