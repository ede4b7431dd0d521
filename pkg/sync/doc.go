/*
The sync package implements packsync's sync algorithm. It brings a target
root into conformance with a remote manifest while transferring as little as
possible.

A sync runs as a sequence of phases. Each phase finishes before the next one
starts:
1) Fetch -- The manifest is downloaded and validated. Nothing on disk is
   touched if it can't be fetched or is invalid.
2) Prune -- Files in the mods directory that the manifest no longer declares
   are removed, unless the target root contains the admin marker.
3) Transfer -- Stale files are downloaded in bounded batches. The snapshot of
   the previous sync lets most files be skipped without hashing them.
4) Bundles -- Bundle archives are extracted, their files are downloaded, and
   their override trees are copied over the target root.
5) Descriptor -- The version descriptor is installed if it doesn't exist yet.
6) Snapshot -- The applied manifest is saved for the next sync.

The engine holds no lock. Callers must not run two syncs against the same
target root at once.
*/
package sync
