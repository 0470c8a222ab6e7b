// Package calibration holds the camera calibration data model. It contains:
//
//   - Matrices: the distortion (5x1), intrinsic (3x3) and projection (3x4)
//     matrices, fixed in shape for the lifetime of the process
//   - ReadFile / WriteFile: persistence in OpenCV FileStorage YAML, using the
//     entry names MatrixD, MatrixK and MatrixP
//   - Store: the process-wide, mutex-guarded copy of the matrices bound to a
//     calibration file
//   - Build: the pure projection of Matrices into a types.CameraInfo record
//
// Store is shared by the capture loop (reads every cycle) and the
// set-calibration handler (writes), so every access goes through its lock.
package calibration
