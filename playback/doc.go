// Package playback turns received PCM chunks into a steady sample stream
// for an output device.
//
// The Renderer sits between two clocks: the network, which pushes chunks
// whenever packets arrive, and the device, which pulls fixed-size blocks at
// 48 kHz. A bounded JitterBuffer absorbs the difference. When the network
// over-delivers, the oldest samples are trimmed so latency stays under the
// ceiling (150 ms by default). When it under-delivers, Pull pads with the
// last sample or with silence instead of waiting.
//
// Basic usage:
//
//	r := playback.NewRenderer(device.NewClockBackend(""), playback.DefaultRendererConfig())
//	if err := r.Start(); err != nil {
//	    return err
//	}
//	defer r.Stop()
//
//	receiver.OnAudioData(func(pcm []byte) { _ = r.Write(pcm) })
package playback
