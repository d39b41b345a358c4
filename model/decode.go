package model

import "math"

// DecodeMoveNet converts the raw MoveNet output tensor [1,1,17,3] — rows
// of (y, x, score) in normalized coordinates — into a single pose.
func DecodeMoveNet(output []float32) Pose {
	n := len(cocoKeypointNames)
	kps := make([]Keypoint, 0, n)
	var sum float64
	for i := range n {
		o := i * 3
		if o+2 >= len(output) {
			break
		}
		kp := Keypoint{
			Name:  cocoKeypointNames[i],
			Y:     float64(output[o+0]),
			X:     float64(output[o+1]),
			Score: float64(output[o+2]),
		}
		sum += kp.Score
		kps = append(kps, kp)
	}
	return Pose{Keypoints: kps, Score: meanScore(sum, len(kps))}
}

// DecodePoseNet performs single-pose decoding over PoseNet heatmaps
// [1,hh,ww,17] and offsets [1,hh,ww,34]: per keypoint, take the argmax
// heatmap cell, apply its offset vector, and normalize by the input size.
// Heatmap logits are squashed through a sigmoid to produce scores.
func DecodePoseNet(heatmaps, offsets []float32, hh, ww, stride, inputSize int) Pose {
	n := len(cocoKeypointNames)
	kps := make([]Keypoint, 0, n)
	var sum float64
	for k := range n {
		bestY, bestX, best := 0, 0, float32(math.Inf(-1))
		for y := range hh {
			for x := range ww {
				v := heatmaps[(y*ww+x)*n+k]
				if v > best {
					best, bestY, bestX = v, y, x
				}
			}
		}
		// Offsets are laid out as [y offsets for all 17, x offsets for all 17].
		offY := offsets[(bestY*ww+bestX)*2*n+k]
		offX := offsets[(bestY*ww+bestX)*2*n+n+k]
		px := float64(bestX*stride) + float64(offX)
		py := float64(bestY*stride) + float64(offY)
		kp := Keypoint{
			Name:  cocoKeypointNames[k],
			X:     px / float64(inputSize),
			Y:     py / float64(inputSize),
			Score: sigmoid(float64(best)),
		}
		sum += kp.Score
		kps = append(kps, kp)
	}
	return Pose{Keypoints: kps, Score: meanScore(sum, len(kps))}
}

// DecodeBlazePose converts the BlazePose landmark tensor [1, 33*5] — rows
// of (x, y, z, visibility, presence) in input-pixel coordinates — into a
// single pose with coordinates normalized by the input size.
func DecodeBlazePose(output []float32, inputSize int) Pose {
	n := len(blazePoseKeypointNames)
	kps := make([]Keypoint, 0, n)
	var sum float64
	for i := range n {
		o := i * 5
		if o+4 >= len(output) {
			break
		}
		kp := Keypoint{
			Name:  blazePoseKeypointNames[i],
			X:     float64(output[o+0]) / float64(inputSize),
			Y:     float64(output[o+1]) / float64(inputSize),
			Z:     float64(output[o+2]) / float64(inputSize),
			Score: sigmoid(float64(output[o+3])),
		}
		sum += kp.Score
		kps = append(kps, kp)
	}
	return Pose{Keypoints: kps, Score: meanScore(sum, len(kps))}
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func meanScore(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
