// File: internal/actuator/validate.go
package actuator

// ValidateCoordinates reports whether (x, y) lies inside the screen. Pure
// and stateless. Rejecting before dispatch saves an actuator round trip on a
// plan that is provably wrong and gives the loop a free retry path.
func ValidateCoordinates(x, y, screenWidth, screenHeight int) bool {
	return x >= 0 && x < screenWidth && y >= 0 && y < screenHeight
}
