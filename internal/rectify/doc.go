// Package rectify turns a photo of a receipt into a flattened, axis-aligned
// image of just the receipt.
//
// The contract is bytes in, bytes out:
//
//	res, err := rectify.Rectify(photo, "image/heic")
//	// res.Bytes is a JPEG; res.WasRectified reports whether an outline was found.
//
// # Pipeline
//
//  1. Decode and auto-orient (imaging.Decode)
//  2. Preprocess to a closed edge map at working resolution (imaging.Preprocess)
//  3. Trace outer contours (detection.Contours)
//  4. Pick the best convex quadrilateral (detection.SelectQuad)
//  5. Order its corners (detection.OrderCorners)
//  6. Solve the homography and warp the full-resolution image (Warp)
//
// When step 4 finds nothing, or step 5 cannot assign corner roles, the
// decoded original is re-encoded unchanged and WasRectified is false. Only
// undecodable input is an error.
//
// # Concurrency
//
// A Pipeline is immutable after New and safe for concurrent use. Within one
// call, quad evaluation and row resampling may fan out across goroutines;
// they share no mutable state.
package rectify
