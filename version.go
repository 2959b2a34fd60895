package vigil

// Version is the tool version. It is embedded into the persisted cache
// snapshot so that a cache written by a different build is never trusted.
const Version = "0.4.1"
