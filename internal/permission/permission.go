// Package permission implementa a avaliação de máscaras de permissão por canal.
//
// A máscara de um membro pode ser nula, e nesse caso o membro herda a máscara
// padrão do canal. Owner implica todos os bits; Admin implica os bits de
// gerenciamento mas não Owner.
package permission

// Mask é um conjunto de bits de permissão
type Mask uint32

const (
	Owner Mask = 1 << iota
	Admin
	ManageChannel
	ManageMembers
	ManagePermissions
	SendMessages
	ManageMessages
	PinMessages
)

const (
	// All contém todos os bits conhecidos
	All = Owner | Admin | ManageChannel | ManageMembers | ManagePermissions |
		SendMessages | ManageMessages | PinMessages

	// Management são os bits implicados por Admin
	Management = ManageChannel | ManageMembers | ManagePermissions | ManageMessages | PinMessages

	// DefaultChannel é a máscara padrão de um canal recém-criado
	DefaultChannel = SendMessages
)

// Bits é o número de bits definidos em All
const Bits = 8

var names = map[Mask]string{
	Owner:             "owner",
	Admin:             "admin",
	ManageChannel:     "manage_channel",
	ManageMembers:     "manage_members",
	ManagePermissions: "manage_permissions",
	SendMessages:      "send_messages",
	ManageMessages:    "manage_messages",
	PinMessages:       "pin_messages",
}

// String lista os nomes dos bits presentes, separados por "|"
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	out := ""
	for bit := Mask(1); bit <= PinMessages; bit <<= 1 {
		if m&bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += names[bit]
	}
	if m&^All != 0 {
		if out != "" {
			out += "|"
		}
		out += "unknown"
	}
	return out
}

// Effective resolve a máscara nula para o padrão do canal
func Effective(member *Mask, channelDefault Mask) Mask {
	if member == nil {
		return channelDefault
	}
	return *member
}

// Has avalia se a máscara do membro concede o bit exigido
func Has(member *Mask, required Mask, channelDefault Mask) bool {
	mask := Effective(member, channelDefault)
	if mask&Owner != 0 {
		return true
	}
	if required&Management != 0 && required&^Management == 0 && mask&Admin != 0 {
		return true
	}
	return mask&required != 0
}

// HasAny reporta se o membro possui ao menos um dos bits exigidos
func HasAny(member *Mask, channelDefault Mask, required ...Mask) bool {
	for _, r := range required {
		if Has(member, r, channelDefault) {
			return true
		}
	}
	return false
}

// CanAssign reporta se o ator pode gravar next como máscara de alguém.
// Owners podem atribuir qualquer bit; os demais só atribuem bits que já têm.
func CanAssign(actor *Mask, next Mask, channelDefault Mask) bool {
	if Has(actor, Owner, channelDefault) {
		return true
	}
	for i := 0; i < Bits; i++ {
		bit := Mask(1) << i
		if next&bit != 0 && !Has(actor, bit, channelDefault) {
			return false
		}
	}
	return true
}

// CanModify reporta se o ator pode alterar a máscara (ou remover) o alvo.
// Somente owners podem mexer em outros owners ou admins.
func CanModify(actor, target *Mask, channelDefault Mask) bool {
	if Has(actor, Owner, channelDefault) {
		return true
	}
	return !Has(target, Owner, channelDefault) && !Has(target, Admin, channelDefault)
}

// Sanitize descarta bits desconhecidos
func Sanitize(raw int64) Mask {
	return Mask(uint32(raw)) & All
}

// SanitizeDefault descarta bits desconhecidos e os bits de hierarquia,
// que nunca fazem parte da máscara padrão de um canal
func SanitizeDefault(raw int64) Mask {
	return Sanitize(raw) &^ (Owner | Admin)
}

// Ptr retorna um ponteiro para m, útil para máscaras explícitas
func Ptr(m Mask) *Mask { return &m }
