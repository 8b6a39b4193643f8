// Provides platform-appropriate paths for the daemon.
//
// All paths follow XDG conventions on Linux and platform-native
// conventions on macOS and Windows. The daemon name "stratad" is used
// as the subdirectory under each base path. Runtime files (socket, PID)
// live under the runtime dir, test reports under the state dir, and the
// local layer cache under the cache dir.
package paths
