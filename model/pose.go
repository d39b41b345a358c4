package model

// Frame is a raw pixel buffer shipped to a worker for inference.
// Pixels is tightly packed RGBA, 4 bytes per pixel, row-major.
type Frame struct {
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Pixels []byte `json:"pixels" msgpack:"pixels"`
}

// Valid reports whether the frame dimensions match the pixel buffer.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pixels) == f.Width*f.Height*4
}

// Keypoint is a named, scored body landmark in normalized coordinates.
// X and Y are in [0,1] relative to the input frame; Z (BlazePose only)
// is depth relative to the hips, in the same scale as X.
type Keypoint struct {
	Name  string  `json:"name" msgpack:"name"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Z     float64 `json:"z,omitempty" msgpack:"z,omitempty"`
	Score float64 `json:"score" msgpack:"score"`
}

// Pose is one detected body: a set of scored keypoints plus an overall
// pose confidence (the mean of its keypoint scores before filtering).
type Pose struct {
	Keypoints []Keypoint `json:"keypoints" msgpack:"keypoints"`
	Score     float64    `json:"score" msgpack:"score"`
}

// cocoKeypointNames is the 17-point COCO topology used by MoveNet and
// PoseNet, in model output order.
var cocoKeypointNames = []string{
	"nose",
	"left_eye", "right_eye",
	"left_ear", "right_ear",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
}

// blazePoseKeypointNames is the 33-point BlazePose topology, in model
// output order.
var blazePoseKeypointNames = []string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// KeypointNames returns the landmark names for a model family in output
// order.
func KeypointNames(typ Type) []string {
	if typ == BlazePose {
		return blazePoseKeypointNames
	}
	return cocoKeypointNames
}
