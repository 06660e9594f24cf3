package quic

//go:generate sh -c "go run go.uber.org/mock/mockgen -package quic -self_package github.com/quivy/quic -destination mock_packet_sender_test.go github.com/quivy/quic PacketSender"
//go:generate sh -c "go run go.uber.org/mock/mockgen -package quic -self_package github.com/quivy/quic -destination mock_stream_listener_test.go github.com/quivy/quic StreamListener"
