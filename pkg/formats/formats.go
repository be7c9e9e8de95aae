// Package formats provides parsers for the scene resource formats: PLY
// triangle meshes and NumPy .npy instance masks.
package formats
