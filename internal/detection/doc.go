// Package detection finds the outline of a receipt in a binary edge map.
//
// The package covers the geometric half of the rectification pipeline:
//
//   - Contours: lazy tracing of closed outer boundaries
//   - ApproxPolygon: Douglas-Peucker simplification of a closed boundary
//   - SelectQuad: filtering to convex quadrilaterals and score ranking
//   - OrderCorners: assigning top-left/top-right/bottom-right/bottom-left roles
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//
// Contours and candidates are expressed at working (possibly downscaled)
// resolution as integer Points; corners become sub-pixel Point2D values once
// they are scaled back to the source image.
//
// # Scoring
//
// A candidate's score is a weighted sum of its share of the image area and
// its rectangularity (area divided by bounding box area). Area alone locks
// onto large non-rectangular regions such as a table top or a shadow;
// rectangularity alone locks onto small accidental squares in the
// background. The default 0.8/0.2 weighting favours large, rectangle-like
// regions, which is what a photographed receipt looks like.
//
// # Concurrency
//
// Every function is pure over its inputs. SelectQuad can evaluate contours
// on several goroutines; candidates are independent and merged by a
// max-reduction.
package detection
