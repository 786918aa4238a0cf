/*
Package privval stores an agent's signing key.

# FileKey

FileKey is the developer default. It keeps the agent id and the armored
secp256k1 keypair in a single JSON file readable only by its owner. Writes
go through a temporary file so a crash never leaves a truncated key behind.
*/
package privval
