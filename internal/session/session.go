// Package session tracks every connected participant and the matching profile
// they most recently asked for. Registry state lives in memory only and is
// guarded by the pairing service's mutation lock.
package session
