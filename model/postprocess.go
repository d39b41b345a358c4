package model

// Finalize applies the post-processing invariants to raw poses: keypoints
// with score at or below threshold are dropped, and surviving normalized
// coordinates are clamped into [0,1]. A threshold of zero means
// DefaultScoreThreshold. The input slice is not modified.
func Finalize(poses []Pose, threshold float64) []Pose {
	if threshold == 0 {
		threshold = DefaultScoreThreshold
	}
	out := make([]Pose, 0, len(poses))
	for _, p := range poses {
		kept := make([]Keypoint, 0, len(p.Keypoints))
		for _, kp := range p.Keypoints {
			if kp.Score <= threshold {
				continue
			}
			kp.X = clamp01(kp.X)
			kp.Y = clamp01(kp.Y)
			kept = append(kept, kp)
		}
		out = append(out, Pose{Keypoints: kept, Score: p.Score})
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
