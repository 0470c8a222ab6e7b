// Package camera is the boundary to the camera hardware. The daemon only
// talks to a Device: open it, configure the video mode and pixel format,
// start acquisition, then pull the current image on every capture cycle.
//
// Two implementations are provided. Simulated renders a test pattern and is
// used in tests and on hosts without a camera. V4L2Device captures from a
// Video4Linux2 node on Linux.
package camera
