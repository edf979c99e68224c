// Package refpath computes a smoothed lateral reference path from lane-marker
// perception, optionally blended with a routing-derived path.
//
// The Estimator is the only stateful piece: it remembers the lateral offset
// it published on the previous call and limits how far the next one may
// move. It is not safe for concurrent use; a single control loop owns it.
//
// Sign conventions: lane-marker fits are expressed in the boundary frame, so
// the raw target offset is the negated mean of the two Coef[0] values and
// the evaluated cubic is negated again to return to the path frame. Station
// 0 of every path therefore lands exactly on the rate-limited offset.
package refpath
